package database

import (
	"database/sql"
	"path/filepath"
	"time"

	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/pkg/errors"
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteFilename = "timecapsule.sqlite"

type sqlite struct {
	db *sql.DB
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	userColumns    = `id, email, password, milestone_credential, password_updated_at, created_at, updated_at`
	capsuleColumns = `id, owner_id, title, message_nonce, message_payload, trigger_kind, trigger_value, type,
		is_delivered, opened_at, owner_email, reminder7_sent, reminder1_sent, created_at, updated_at`
)

// SQLiteFilename returns the SQLite database file for the given directory.
func SQLiteFilename(path string) string {
	if len(path) == 0 {
		return sqliteFilename
	}
	return filepath.Join(path, sqliteFilename)
}

// SQLiteOpen returns a new SQLite database connection with an up to date schema.
func SQLiteOpen(database string) (Client, error) {
	dsn := database + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not get database connection")
	}

	if err = Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqlite{db: db}, nil
}

// Save inserts or updates the entry in database with the given model.
func (c *sqlite) Save(m model.Model) error {
	t := time.Now().UTC()
	m.SetUpdatedAt(t)

	insert := m.GetID() == 0
	if insert {
		m.SetCreatedAt(t)
	}

	var err error
	switch v := m.(type) {
	case *model.User:
		err = c.saveUser(v, insert)
	case *model.Capsule:
		err = c.saveCapsule(v, insert)
	default:
		err = errors.Errorf("unsupported model %T", m)
	}
	return errors.Wrap(err, "could not save the model")
}

func (c *sqlite) saveUser(u *model.User, insert bool) error {
	if insert {
		r, err := c.db.Exec(`INSERT INTO users (email, password, milestone_credential, password_updated_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			u.Email, u.Password, u.MilestoneCredential, u.PasswordUpdatedAt, unix(u.CreatedAt), unix(u.UpdatedAt),
		)
		if err != nil {
			return err
		}
		return setID(u, r)
	}

	_, err := c.db.Exec(`UPDATE users SET email = ?, password = ?, milestone_credential = ?, password_updated_at = ?, updated_at = ?
		WHERE id = ?`,
		u.Email, u.Password, u.MilestoneCredential, u.PasswordUpdatedAt, unix(u.UpdatedAt), u.ID,
	)
	return err
}

func (c *sqlite) saveCapsule(m *model.Capsule, insert bool) error {
	if insert {
		r, err := c.db.Exec(`INSERT INTO capsules (owner_id, title, message_nonce, message_payload, trigger_kind, trigger_value, type,
				is_delivered, opened_at, owner_email, reminder7_sent, reminder1_sent, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.OwnerID, m.Title, m.Message.Nonce, m.Message.Payload, string(m.TriggerKind), m.TriggerValue, m.Type,
			m.Delivered, nullUnix(m.OpenedAt), m.OwnerEmail, m.Reminder7Sent, m.Reminder1Sent, unix(m.CreatedAt), unix(m.UpdatedAt),
		)
		if err != nil {
			return err
		}
		return setID(m, r)
	}

	_, err := c.db.Exec(`UPDATE capsules SET owner_id = ?, title = ?, message_nonce = ?, message_payload = ?, trigger_kind = ?,
			trigger_value = ?, type = ?, is_delivered = ?, opened_at = ?, owner_email = ?, reminder7_sent = ?, reminder1_sent = ?,
			updated_at = ?
		WHERE id = ?`,
		m.OwnerID, m.Title, m.Message.Nonce, m.Message.Payload, string(m.TriggerKind),
		m.TriggerValue, m.Type, m.Delivered, nullUnix(m.OpenedAt), m.OwnerEmail, m.Reminder7Sent, m.Reminder1Sent,
		unix(m.UpdatedAt), m.ID,
	)
	return err
}

// Delete deletes the entry in database with the given model.
func (c *sqlite) Delete(m model.Model) error {
	var err error
	switch m.(type) {
	case *model.User:
		err = c.delete(`DELETE FROM users WHERE id = ?`, m.GetID())
	case *model.Capsule:
		err = c.delete(`DELETE FROM capsules WHERE id = ?`, m.GetID())
	default:
		err = errors.Errorf("unsupported model %T", m)
	}
	return errors.Wrap(err, "could not delete the model")
}

func (c *sqlite) delete(query string, id int) error {
	r, err := c.db.Exec(query, id)
	if err != nil {
		return err
	}
	return affected(r)
}

// Close the database.
func (c *sqlite) Close() error {
	return c.db.Close()
}

// IsNotFound returns true if err is a not found error.
func (c *sqlite) IsNotFound(err error) bool {
	return errors.Cause(err) == sql.ErrNoRows
}

// IsAlreadyExists returns true if err is a unique constraint error.
func (c *sqlite) IsAlreadyExists(err error) bool {
	var serr *driver.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || serr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// FindUser returns the user for the given id.
func (c *sqlite) FindUser(id int) (*model.User, error) {
	row := c.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	return user, errors.Wrap(err, "find user by id")
}

// FindUserByMail returns the user for the given email.
func (c *sqlite) FindUserByMail(email string) (*model.User, error) {
	row := c.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	return user, errors.Wrap(err, "find user by mail")
}

// FindCapsule returns the capsule for the given id.
func (c *sqlite) FindCapsule(id int) (*model.Capsule, error) {
	row := c.db.QueryRow(`SELECT `+capsuleColumns+` FROM capsules WHERE id = ?`, id)
	capsule, err := scanCapsule(row)
	return capsule, errors.Wrap(err, "find capsule by id")
}

// FindCapsulesByOwner returns all the capsules of the given owner ordered by id.
func (c *sqlite) FindCapsulesByOwner(ownerID int) ([]*model.Capsule, error) {
	capsules, err := c.findCapsules(`owner_id = ?`, ownerID)
	return capsules, errors.Wrap(err, "could not find capsules by owner")
}

// FindPendingCapsules returns all the undelivered capsules of the given kind ordered by id.
func (c *sqlite) FindPendingCapsules(kind model.TriggerKind) ([]*model.Capsule, error) {
	var capsules []*model.Capsule
	var err error
	if kind == "" {
		capsules, err = c.findCapsules(`is_delivered = 0`)
	} else {
		capsules, err = c.findCapsules(`is_delivered = 0 AND trigger_kind = ?`, string(kind))
	}
	return capsules, errors.Wrap(err, "could not find pending capsules")
}

// FindPendingCapsulesByOwner returns the undelivered capsules of the given owner and kind ordered by id.
func (c *sqlite) FindPendingCapsulesByOwner(ownerID int, kind model.TriggerKind) ([]*model.Capsule, error) {
	var capsules []*model.Capsule
	var err error
	if kind == "" {
		capsules, err = c.findCapsules(`owner_id = ? AND is_delivered = 0`, ownerID)
	} else {
		capsules, err = c.findCapsules(`owner_id = ? AND is_delivered = 0 AND trigger_kind = ?`, ownerID, string(kind))
	}
	return capsules, errors.Wrap(err, "could not find pending capsules by owner")
}

func (c *sqlite) findCapsules(where string, args ...any) ([]*model.Capsule, error) {
	rows, err := c.db.Query(`SELECT `+capsuleColumns+` FROM capsules WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	capsules := make([]*model.Capsule, 0)
	for rows.Next() {
		capsule, err := scanCapsule(rows)
		if err != nil {
			return nil, err
		}
		capsules = append(capsules, capsule)
	}
	return capsules, rows.Err()
}

// MarkCapsuleDelivered flags the capsule as delivered only if it is still pending.
func (c *sqlite) MarkCapsuleDelivered(id int, openedAt time.Time) (bool, error) {
	ok, err := c.transition(id, `UPDATE capsules SET is_delivered = 1, opened_at = ?, updated_at = ?
		WHERE id = ? AND is_delivered = 0`, openedAt.UnixNano(), time.Now().UTC().UnixNano(), id)
	return ok, errors.Wrap(err, "could not mark capsule as delivered")
}

// MarkCapsuleReminded flags the given reminder as sent only if it was not sent yet.
func (c *sqlite) MarkCapsuleReminded(id int, reminder model.Reminder) (bool, error) {
	now := time.Now().UTC().UnixNano()

	var ok bool
	var err error
	switch reminder {
	case model.ReminderDay:
		ok, err = c.transition(id, `UPDATE capsules SET reminder1_sent = 1, reminder7_sent = 1, updated_at = ?
			WHERE id = ? AND is_delivered = 0 AND reminder1_sent = 0`, now, id)
	case model.ReminderWeek:
		ok, err = c.transition(id, `UPDATE capsules SET reminder7_sent = 1, updated_at = ?
			WHERE id = ? AND is_delivered = 0 AND reminder7_sent = 0`, now, id)
	}
	return ok, errors.Wrap(err, "could not mark capsule as reminded")
}

// transition runs a conditional single-row update.
// A missing row is reported as not found, an unmatched condition as false.
func (c *sqlite) transition(id int, query string, args ...any) (bool, error) {
	r, err := c.db.Exec(query, args...)
	if err != nil {
		return false, err
	}

	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = c.db.QueryRow(`SELECT 1 FROM capsules WHERE id = ?`, id).Scan(&exists)
	return false, err
}

// DeleteCapsule deletes the capsule for the given id.
func (c *sqlite) DeleteCapsule(id int) error {
	return errors.Wrap(c.delete(`DELETE FROM capsules WHERE id = ?`, id), "could not delete capsule")
}

//
// Helpers
//

func scanUser(row scanner) (*model.User, error) {
	var user model.User
	var password, credential sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&user.ID, &user.Email, &password, &credential, &user.PasswordUpdatedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	user.Password = password.String
	user.MilestoneCredential = credential.String
	user.SetCreatedAt(fromUnix(createdAt))
	user.SetUpdatedAt(fromUnix(updatedAt))
	return &user, nil
}

func scanCapsule(row scanner) (*model.Capsule, error) {
	var capsule model.Capsule
	var kind string
	var typ, email sql.NullString
	var openedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&capsule.ID, &capsule.OwnerID, &capsule.Title, &capsule.Message.Nonce, &capsule.Message.Payload, &kind,
		&capsule.TriggerValue, &typ, &capsule.Delivered, &openedAt, &email, &capsule.Reminder7Sent, &capsule.Reminder1Sent,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	capsule.TriggerKind = model.TriggerKind(kind)
	capsule.Type = typ.String
	capsule.OwnerEmail = email.String
	if openedAt.Valid {
		t := fromUnix(openedAt.Int64)
		capsule.OpenedAt = &t
	}
	capsule.SetCreatedAt(fromUnix(createdAt))
	capsule.SetUpdatedAt(fromUnix(updatedAt))
	return &capsule, nil
}

func setID(m model.Model, r sql.Result) error {
	id, err := r.LastInsertId()
	if err != nil {
		return err
	}
	m.SetID(int(id))
	return nil
}

func affected(r sql.Result) error {
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func unix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnix(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
