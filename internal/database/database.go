package database

import (
	"time"

	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/pkg/errors"
)

const (
	// EngineStorm is the embedded key-value engine (default).
	EngineStorm = "storm"
	// EngineSQLite is the embedded relational engine.
	EngineSQLite = "sqlite"
)

type (
	// A Client can interacts with the database.
	Client interface {
		// Save inserts or updates the entry in database with the given model.
		Save(m model.Model) error
		// Delete deletes the entry in database with the given model.
		Delete(m model.Model) error
		// Close the database.
		Close() error
		// IsNotFound returns true if err is a not found error.
		IsNotFound(err error) bool
		// IsAlreadyExists returns true if err is a unique constraint error.
		IsAlreadyExists(err error) bool

		UserInteraction
		CapsuleInteraction
	}

	// An UserInteraction defines all the methods used to interact with a user record.
	UserInteraction interface {
		// FindUser returns the user for the given id.
		FindUser(id int) (*model.User, error)
		// FindUserByMail returns the user for the given email.
		FindUserByMail(email string) (*model.User, error)
	}

	// A CapsuleInteraction defines all the methods used to interact with capsule records.
	CapsuleInteraction interface {
		// FindCapsule returns the capsule for the given id.
		FindCapsule(id int) (*model.Capsule, error)
		// FindCapsulesByOwner returns all the capsules of the given owner ordered by id.
		FindCapsulesByOwner(ownerID int) ([]*model.Capsule, error)
		// FindPendingCapsules returns all the undelivered capsules of the given kind ordered by id.
		// An empty kind matches all kinds.
		FindPendingCapsules(kind model.TriggerKind) ([]*model.Capsule, error)
		// FindPendingCapsulesByOwner returns the undelivered capsules of the given owner and kind ordered by id.
		// An empty kind matches all kinds.
		FindPendingCapsulesByOwner(ownerID int, kind model.TriggerKind) ([]*model.Capsule, error)
		// MarkCapsuleDelivered flags the capsule as delivered at the given time
		// only if it is still pending. It returns true when this call performed the transition.
		MarkCapsuleDelivered(id int, openedAt time.Time) (bool, error)
		// MarkCapsuleReminded flags the given reminder (and the wider ones) as sent
		// only if it was not sent yet. It returns true when this call performed the transition.
		MarkCapsuleReminded(id int, reminder model.Reminder) (bool, error)
		// DeleteCapsule deletes the capsule for the given id.
		DeleteCapsule(id int) error
	}
)

// Open returns a connection to the database of the given engine stored in the given directory.
func Open(engine, path string) (Client, error) {
	switch engine {
	case "", EngineStorm:
		return StormOpen(StormFilename(path))
	case EngineSQLite:
		return SQLiteOpen(SQLiteFilename(path))
	default:
		return nil, errors.Errorf("unsupported database engine %q", engine)
	}
}
