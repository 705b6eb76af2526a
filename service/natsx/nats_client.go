package natsx

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type Config struct {
	Servers       []string      `yaml:"servers"`
	Name          string        `yaml:"name"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Client is a core NATS connection with tracked subscriptions.
type Client struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &Client{nc: nc}, nil
}

func (c *Client) PublishMsg(m *nats.Msg) error {
	return c.nc.PublishMsg(m)
}

// Subscribe registers h on subject. Messages of one subscription are handled
// one at a time in arrival order.
func (c *Client) Subscribe(subject string, h nats.MsgHandler) error {
	sub, err := c.nc.Subscribe(subject, h)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", subject)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close drains subscriptions, then the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
	c.mu.Unlock()
	return c.nc.Drain()
}
