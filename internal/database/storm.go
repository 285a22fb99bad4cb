package database

import (
	"path/filepath"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/msgpack"
	"github.com/asdine/storm/v3/q"
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/pkg/errors"
)

const stormFilename = "timecapsule.db"

type strm struct {
	db *storm.DB
}

// StormCodec is the format used to store data in the database.
var StormCodec = storm.Codec(msgpack.Codec)

// StormFilename returns the Storm database file for the given directory.
func StormFilename(path string) string {
	if len(path) == 0 {
		return stormFilename
	}
	return filepath.Join(path, stormFilename)
}

// StormInit initializes Storm database.
func StormInit(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	if err := db.Init(&model.User{}); err != nil {
		return errors.Wrap(err, "could not init user index")
	}

	err = db.Init(&model.Capsule{})
	return errors.Wrap(err, "could not init capsule index")
}

// StormReIndex reindex Storm database.
func StormReIndex(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	if err := db.ReIndex(&model.User{}); err != nil {
		return errors.Wrap(err, "could not ReIndex users")
	}

	err = db.ReIndex(&model.Capsule{})
	return errors.Wrap(err, "could not ReIndex capsules")
}

// StormOpen returns a new Storm database connection.
func StormOpen(database string) (Client, error) {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return nil, errors.Wrap(err, "could not get database connection")
	}

	return &strm{
		db: db,
	}, nil
}

// Save inserts or updates the entry in database with the given model.
func (c *strm) Save(m model.Model) error {
	t := time.Now().UTC()
	m.SetUpdatedAt(t)

	if m.GetID() == 0 {
		m.SetCreatedAt(t)
	}

	return errors.Wrap(c.db.Save(m), "could not save the model")
}

// Delete deletes the entry in database with the given model.
func (c *strm) Delete(m model.Model) error {
	return errors.Wrap(c.db.DeleteStruct(m), "could not delete the model")
}

// Close the database.
func (c *strm) Close() error {
	return c.db.Close()
}

// IsNotFound returns true if err is a not found error.
func (c *strm) IsNotFound(err error) bool {
	return errors.Cause(err) == storm.ErrNotFound
}

// IsAlreadyExists returns true if err is a unique constraint error.
func (c *strm) IsAlreadyExists(err error) bool {
	return errors.Cause(err) == storm.ErrAlreadyExists
}

// FindUser returns the user for the given id.
func (c *strm) FindUser(id int) (*model.User, error) {
	var user model.User
	if err := c.db.One("ID", id, &user); err != nil {
		return nil, errors.Wrap(err, "find user by id")
	}
	return &user, nil
}

// FindUserByMail returns the user for the given email.
func (c *strm) FindUserByMail(email string) (*model.User, error) {
	var user model.User
	if err := c.db.One("Email", email, &user); err != nil {
		return nil, errors.Wrap(err, "find user by mail")
	}
	return &user, nil
}

// FindCapsule returns the capsule for the given id.
func (c *strm) FindCapsule(id int) (*model.Capsule, error) {
	var capsule model.Capsule
	if err := c.db.One("ID", id, &capsule); err != nil {
		return nil, errors.Wrap(err, "find capsule by id")
	}
	return &capsule, nil
}

// FindCapsulesByOwner returns all the capsules of the given owner ordered by id.
func (c *strm) FindCapsulesByOwner(ownerID int) ([]*model.Capsule, error) {
	return c.findCapsules("could not find capsules by owner", q.Eq("OwnerID", ownerID))
}

// FindPendingCapsules returns all the undelivered capsules of the given kind ordered by id.
func (c *strm) FindPendingCapsules(kind model.TriggerKind) ([]*model.Capsule, error) {
	query := []q.Matcher{q.Eq("Delivered", false)}
	if kind != "" {
		query = append(query, q.Eq("TriggerKind", kind))
	}
	return c.findCapsules("could not find pending capsules", query...)
}

// FindPendingCapsulesByOwner returns the undelivered capsules of the given owner and kind ordered by id.
func (c *strm) FindPendingCapsulesByOwner(ownerID int, kind model.TriggerKind) ([]*model.Capsule, error) {
	query := []q.Matcher{q.Eq("OwnerID", ownerID), q.Eq("Delivered", false)}
	if kind != "" {
		query = append(query, q.Eq("TriggerKind", kind))
	}
	return c.findCapsules("could not find pending capsules by owner", query...)
}

func (c *strm) findCapsules(message string, query ...q.Matcher) ([]*model.Capsule, error) {
	capsules := make([]*model.Capsule, 0)
	err := c.db.Select(query...).OrderBy("ID").Find(&capsules)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, message)
	}
	return capsules, nil
}

// MarkCapsuleDelivered flags the capsule as delivered only if it is still pending.
// Storm write transactions are serialized by bbolt so the read-check-write is atomic.
func (c *strm) MarkCapsuleDelivered(id int, openedAt time.Time) (bool, error) {
	return c.transition(id, func(capsule *model.Capsule) bool {
		if capsule.Delivered {
			return false
		}

		capsule.Delivered = true
		capsule.OpenedAt = &openedAt
		return true
	})
}

// MarkCapsuleReminded flags the given reminder as sent only if it was not sent yet.
func (c *strm) MarkCapsuleReminded(id int, reminder model.Reminder) (bool, error) {
	return c.transition(id, func(capsule *model.Capsule) bool {
		if capsule.Delivered {
			return false
		}

		switch reminder {
		case model.ReminderDay:
			if capsule.Reminder1Sent {
				return false
			}
			capsule.Reminder1Sent = true
			capsule.Reminder7Sent = true
		case model.ReminderWeek:
			if capsule.Reminder7Sent {
				return false
			}
			capsule.Reminder7Sent = true
		default:
			return false
		}
		return true
	})
}

func (c *strm) transition(id int, apply func(capsule *model.Capsule) bool) (bool, error) {
	tx, err := c.db.Begin(true)
	if err != nil {
		return false, errors.Wrap(err, "could not begin transaction")
	}
	defer tx.Rollback() // nolint:errcheck

	var capsule model.Capsule
	if err = tx.One("ID", id, &capsule); err != nil {
		return false, errors.Wrap(err, "find capsule by id")
	}

	if !apply(&capsule) {
		return false, nil
	}

	capsule.SetUpdatedAt(time.Now().UTC())
	if err = tx.Save(&capsule); err != nil {
		return false, errors.Wrap(err, "could not save the capsule")
	}

	if err = tx.Commit(); err != nil {
		return false, errors.Wrap(err, "could not commit transaction")
	}
	return true, nil
}

// DeleteCapsule deletes the capsule for the given id.
func (c *strm) DeleteCapsule(id int) error {
	tx, err := c.db.Begin(true)
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	defer tx.Rollback() // nolint:errcheck

	var capsule model.Capsule
	if err = tx.One("ID", id, &capsule); err != nil {
		return errors.Wrap(err, "find capsule by id")
	}

	if err = tx.DeleteStruct(&capsule); err != nil {
		return errors.Wrap(err, "could not delete capsule")
	}

	return errors.Wrap(tx.Commit(), "could not commit transaction")
}
