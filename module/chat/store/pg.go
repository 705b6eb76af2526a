package store

import (
	"context"
	_ "embed"
	"time"

	"PPChat/module/chat/model"
	"PPChat/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// PgOptions tunes the pool. Zero values keep pgx defaults.
type PgOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

// Connect creates a pgx pool for dsn and pings it.
func Connect(ctx context.Context, dsn string, opt PgOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: parse config")
	}
	if opt.MaxConns > 0 {
		cfg.MaxConns = opt.MaxConns
	}
	if opt.MinConns > 0 {
		cfg.MinConns = opt.MinConns
	}
	if opt.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opt.MaxConnIdleTime
	}
	if opt.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opt.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: new pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates missing tables. Statements are idempotent.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return storageErr(err, "migrate")
	}
	return nil
}

func storageErr(err error, op string) error {
	return errors.Wrap(errs.ErrStorage.WrapMsg(err.Error()), op)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (s *PgStore) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	u := &model.User{}
	err := s.pool.QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrUserNotFound.WrapMsg("", "user_id", userID)
	}
	if err != nil {
		return nil, storageErr(err, "get user")
	}
	return u, nil
}

func (s *PgStore) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID).Scan(&ok)
	if err != nil {
		return false, storageErr(err, "is member")
	}
	return ok, nil
}

func (s *PgStore) ChatMemberIDs(ctx context.Context, chatID int64) ([]int64, error) {
	return s.int64s(ctx, "chat members",
		`SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY user_id`, chatID)
}

func (s *PgStore) ChatIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	return s.int64s(ctx, "chats for user",
		`SELECT chat_id FROM chat_members WHERE user_id = $1 ORDER BY chat_id`, userID)
}

func (s *PgStore) int64s(ctx context.Context, op, sql string, args ...any) ([]int64, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(err, op)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, storageErr(err, op)
	}
	return ids, nil
}

// querier is satisfied by the pool and by a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (s *PgStore) CreateMessage(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	return createMessage(ctx, s.pool, in)
}

// CreateMessageWithStatuses inserts the message and its recipient statuses
// in one transaction.
func (s *PgStore) CreateMessageWithStatuses(ctx context.Context, in model.NewMessage, recipients []int64, at time.Time) (*model.Message, error) {
	var m *model.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if m, err = createMessage(ctx, tx, in); err != nil {
			return err
		}
		return insertStatuses(ctx, tx, m.ID, recipients, at)
	})
	switch {
	case err == nil:
		return m, nil
	case errs.IsNotFound(err), errs.ErrStorage.Is(err):
		return nil, err
	default:
		return nil, storageErr(err, "create message tx")
	}
}

func createMessage(ctx context.Context, q querier, in model.NewMessage) (*model.Message, error) {
	m := &model.Message{ChatID: in.ChatID, Text: in.Text, ForwardedFrom: in.ForwardedFrom, ForwardedBy: in.ForwardedBy}
	err := q.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO messages (chat_id, sender_id, text, forwarded_from, forwarded_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, sender_id, created_at
		)
		SELECT ins.id, ins.created_at, u.id, u.username
		FROM ins JOIN users u ON u.id = ins.sender_id`,
		in.ChatID, in.SenderID, in.Text, in.ForwardedFrom, in.ForwardedBy,
	).Scan(&m.ID, &m.CreatedAt, &m.Sender.ID, &m.Sender.Username)
	if isForeignKeyViolation(err) {
		return nil, errs.ErrRecordNotFound.WrapMsg("chat", "chat_id", in.ChatID)
	}
	if err != nil {
		return nil, storageErr(err, "create message")
	}
	if in.ForwardedFrom != nil {
		var origin string
		err = q.QueryRow(ctx, `
			SELECT u.username FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = $1`,
			*in.ForwardedFrom).Scan(&origin)
		switch {
		case err == nil:
			m.ForwardedFromSender = &origin
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, storageErr(err, "forward origin")
		}
	}
	return m, nil
}

func (s *PgStore) CreateDeliveryStatuses(ctx context.Context, messageID int64, recipients []int64, at time.Time) error {
	return insertStatuses(ctx, s.pool, messageID, recipients, at)
}

func insertStatuses(ctx context.Context, q querier, messageID int64, recipients []int64, at time.Time) error {
	if len(recipients) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, uid := range recipients {
		batch.Queue(`
			INSERT INTO message_statuses (message_id, user_id, delivered, delivered_at)
			VALUES ($1, $2, true, $3)
			ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, uid, at)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return storageErr(err, "create statuses")
	}
	return nil
}

func (s *PgStore) GetMessage(ctx context.Context, messageID int64) (*model.Message, error) {
	m := &model.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT m.id, m.chat_id, u.id, u.username, m.text, m.forwarded_from, m.forwarded_by,
		       m.is_edited, m.edited_at, m.is_deleted, m.created_at, ou.username
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		LEFT JOIN messages o ON o.id = m.forwarded_from
		LEFT JOIN users ou ON ou.id = o.sender_id
		WHERE m.id = $1`, messageID,
	).Scan(&m.ID, &m.ChatID, &m.Sender.ID, &m.Sender.Username, &m.Text, &m.ForwardedFrom, &m.ForwardedBy,
		&m.IsEdited, &m.EditedAt, &m.IsDeleted, &m.CreatedAt, &m.ForwardedFromSender)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "message_id", messageID)
	}
	if err != nil {
		return nil, storageErr(err, "get message")
	}
	return m, nil
}

func (s *PgStore) UpdateMessageText(ctx context.Context, messageID, sender int64, text string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET text = $3, is_edited = true, edited_at = $4
		WHERE id = $1 AND sender_id = $2 AND NOT is_deleted`,
		messageID, sender, text, at)
	if err != nil {
		return false, storageErr(err, "update message")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) TombstoneMessage(ctx context.Context, messageID, sender int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_deleted = true, text = $3
		WHERE id = $1 AND sender_id = $2 AND NOT is_deleted`,
		messageID, sender, model.DeletedText)
	if err != nil {
		return false, storageErr(err, "tombstone message")
	}
	return tag.RowsAffected() > 0, nil
}

// AdvanceReadWatermark is a single conditional upsert, so concurrent readers
// of the same (chat, user) row serialize on the row lock.
func (s *PgStore) AdvanceReadWatermark(ctx context.Context, chatID, userID, candidate int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chat_read_states (chat_id, user_id, last_read_message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO UPDATE
		SET last_read_message_id = EXCLUDED.last_read_message_id
		WHERE chat_read_states.last_read_message_id < EXCLUDED.last_read_message_id`,
		chatID, userID, candidate)
	if err != nil {
		return false, storageErr(err, "advance watermark")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) MarkStatusesRead(ctx context.Context, chatID, userID, upTo int64, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_statuses ms SET read = true, read_at = $4
		FROM messages m
		WHERE ms.message_id = m.id
		  AND m.chat_id = $1 AND ms.user_id = $2 AND ms.message_id <= $3
		  AND NOT ms.read`,
		chatID, userID, upTo, at)
	if err != nil {
		return 0, storageErr(err, "mark read")
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error {
	var lastSeen *time.Time
	if !online {
		lastSeen = &at
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_statuses (user_id, is_online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET is_online = EXCLUDED.is_online,
		    last_seen = COALESCE(EXCLUDED.last_seen, user_statuses.last_seen)`,
		userID, online, lastSeen)
	if err != nil {
		return storageErr(err, "set presence")
	}
	return nil
}

var (
	_ Store = (*PgStore)(nil)
	_ Store = (*MemStore)(nil)
)
