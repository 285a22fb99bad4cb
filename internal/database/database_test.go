package database_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mdouchement/timecapsule/internal/database"
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var engines = []string{database.EngineStorm, database.EngineSQLite}

func open(t *testing.T, engine string) database.Client {
	t.Helper()

	db, err := database.Open(engine, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func capsule(owner int, kind model.TriggerKind, value string) *model.Capsule {
	return &model.Capsule{
		OwnerID:      owner,
		Title:        "A capsule",
		Message:      model.Ciphertext{Nonce: []byte("nonce"), Payload: []byte("payload")},
		TriggerKind:  kind,
		TriggerValue: value,
		OwnerEmail:   "george.abitbol@nowhere.lan",
	}
}

func TestOpenUnsupportedEngine(t *testing.T) {
	_, err := database.Open("postgres", t.TempDir())
	assert.EqualError(t, err, `unsupported database engine "postgres"`)
}

func TestUsers(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			db := open(t, engine)

			_, err := db.FindUserByMail("george.abitbol@nowhere.lan")
			assert.True(t, db.IsNotFound(err))

			user := model.NewUser()
			user.Email = "george.abitbol@nowhere.lan"
			user.Password = "hash"
			require.NoError(t, db.Save(user))
			assert.NotZero(t, user.ID)
			assert.NotNil(t, user.CreatedAt)

			found, err := db.FindUserByMail("george.abitbol@nowhere.lan")
			require.NoError(t, err)
			assert.Equal(t, user.ID, found.ID)
			assert.False(t, found.HasMilestoneCredential())

			found.MilestoneCredential = "ghp_token"
			require.NoError(t, db.Save(found))

			found, err = db.FindUser(user.ID)
			require.NoError(t, err)
			assert.Equal(t, "ghp_token", found.MilestoneCredential)
			assert.True(t, found.HasMilestoneCredential())

			duplicate := model.NewUser()
			duplicate.Email = "george.abitbol@nowhere.lan"
			err = db.Save(duplicate)
			assert.True(t, db.IsAlreadyExists(err))

			_, err = db.FindUser(user.ID + 42)
			assert.True(t, db.IsNotFound(err))
		})
	}
}

func TestIsAlreadyExists(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			db := open(t, engine)

			assert.False(t, db.IsAlreadyExists(nil))
			assert.False(t, db.IsNotFound(nil))
			// Only the store's own errors are classified.
			assert.False(t, db.IsAlreadyExists(errors.New("UNIQUE constraint failed: users.email")))

			user := model.NewUser()
			user.Email = "george.abitbol@nowhere.lan"
			require.NoError(t, db.Save(user))

			duplicate := model.NewUser()
			duplicate.Email = user.Email
			err := db.Save(duplicate)
			require.Error(t, err)
			assert.True(t, db.IsAlreadyExists(errors.Wrap(err, "register")))
			assert.False(t, db.IsNotFound(err))
		})
	}
}

func TestCapsules(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			db := open(t, engine)

			c1 := capsule(1, model.TriggerDate, "2020-01-01T00:00:00Z")
			c2 := capsule(1, model.TriggerLocation, "Paris")
			c3 := capsule(2, model.TriggerMilestone, "5")
			for _, c := range []*model.Capsule{c1, c2, c3} {
				require.NoError(t, db.Save(c))
			}
			assert.True(t, c1.ID < c2.ID && c2.ID < c3.ID, "ids are increasing")

			found, err := db.FindCapsule(c2.ID)
			require.NoError(t, err)
			assert.Equal(t, c2.Title, found.Title)
			assert.Equal(t, model.TriggerLocation, found.TriggerKind)
			assert.Equal(t, "Paris", found.TriggerValue)
			assert.Equal(t, c2.Message, found.Message)
			assert.Equal(t, "george.abitbol@nowhere.lan", found.OwnerEmail)
			assert.False(t, found.Delivered)
			assert.Nil(t, found.OpenedAt)

			capsules, err := db.FindCapsulesByOwner(1)
			require.NoError(t, err)
			assert.Len(t, capsules, 2)
			assert.Equal(t, c1.ID, capsules[0].ID)

			capsules, err = db.FindCapsulesByOwner(3)
			require.NoError(t, err)
			assert.Empty(t, capsules)

			capsules, err = db.FindPendingCapsules("")
			require.NoError(t, err)
			assert.Len(t, capsules, 3)

			capsules, err = db.FindPendingCapsules(model.TriggerMilestone)
			require.NoError(t, err)
			require.Len(t, capsules, 1)
			assert.Equal(t, c3.ID, capsules[0].ID)

			capsules, err = db.FindPendingCapsulesByOwner(1, model.TriggerLocation)
			require.NoError(t, err)
			require.Len(t, capsules, 1)
			assert.Equal(t, c2.ID, capsules[0].ID)

			require.NoError(t, db.DeleteCapsule(c3.ID))
			_, err = db.FindCapsule(c3.ID)
			assert.True(t, db.IsNotFound(err))
			assert.True(t, db.IsNotFound(db.DeleteCapsule(c3.ID)))
		})
	}
}

func TestMarkCapsuleDelivered(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			db := open(t, engine)

			c := capsule(1, model.TriggerDate, "2020-01-01T00:00:00Z")
			require.NoError(t, db.Save(c))

			at := time.Now().UTC().Truncate(time.Millisecond)
			ok, err := db.MarkCapsuleDelivered(c.ID, at)
			require.NoError(t, err)
			assert.True(t, ok)

			found, err := db.FindCapsule(c.ID)
			require.NoError(t, err)
			assert.True(t, found.Delivered)
			require.NotNil(t, found.OpenedAt)
			assert.True(t, at.Equal(*found.OpenedAt))

			// Never transitions twice and keeps the first timestamp.
			ok, err = db.MarkCapsuleDelivered(c.ID, at.Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, ok)

			found, err = db.FindCapsule(c.ID)
			require.NoError(t, err)
			assert.True(t, at.Equal(*found.OpenedAt))

			capsules, err := db.FindPendingCapsules("")
			require.NoError(t, err)
			assert.Empty(t, capsules)

			_, err = db.MarkCapsuleDelivered(c.ID+42, at)
			assert.True(t, db.IsNotFound(err))
		})
	}
}

func TestMarkCapsuleDeliveredConcurrently(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			db := open(t, engine)

			c := capsule(1, model.TriggerDate, "2020-01-01T00:00:00Z")
			require.NoError(t, db.Save(c))

			var wg sync.WaitGroup
			var mu sync.Mutex
			transitions := 0
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := db.MarkCapsuleDelivered(c.ID, time.Now().UTC())
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						transitions++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, transitions)
		})
	}
}

func TestMarkCapsuleReminded(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			db := open(t, engine)

			c := capsule(1, model.TriggerDate, "2020-01-01T00:00:00Z")
			require.NoError(t, db.Save(c))

			ok, err := db.MarkCapsuleReminded(c.ID, model.ReminderWeek)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = db.MarkCapsuleReminded(c.ID, model.ReminderWeek)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = db.MarkCapsuleReminded(c.ID, model.ReminderDay)
			require.NoError(t, err)
			assert.True(t, ok)

			found, err := db.FindCapsule(c.ID)
			require.NoError(t, err)
			assert.True(t, found.Reminder7Sent)
			assert.True(t, found.Reminder1Sent)

			// The day reminder covers the week one.
			c2 := capsule(1, model.TriggerDate, "2020-01-01T00:00:00Z")
			require.NoError(t, db.Save(c2))

			ok, err = db.MarkCapsuleReminded(c2.ID, model.ReminderDay)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = db.MarkCapsuleReminded(c2.ID, model.ReminderWeek)
			require.NoError(t, err)
			assert.False(t, ok)

			// Delivered capsules are never reminded.
			c3 := capsule(1, model.TriggerDate, "2020-01-01T00:00:00Z")
			require.NoError(t, db.Save(c3))
			_, err = db.MarkCapsuleDelivered(c3.ID, time.Now().UTC())
			require.NoError(t, err)

			ok, err = db.MarkCapsuleReminded(c3.ID, model.ReminderDay)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStormInitAndReIndex(t *testing.T) {
	filename := database.StormFilename(t.TempDir())

	assert.NoError(t, database.StormInit(filename))
	assert.NoError(t, database.StormReIndex(filename))

	db, err := database.StormOpen(filename)
	require.NoError(t, err)
	defer db.Close()

	c := capsule(1, model.TriggerDate, "2020-01-01T00:00:00Z")
	assert.NoError(t, db.Save(c))
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "timecapsule.db", database.StormFilename(""))
	assert.Equal(t, filepath.Join("data", "timecapsule.db"), database.StormFilename("data"))
	assert.Equal(t, "timecapsule.sqlite", database.SQLiteFilename(""))
	assert.Equal(t, filepath.Join("data", "timecapsule.sqlite"), database.SQLiteFilename("data"))
}
