// Package testutil provides the pet store schema and seeded databases shared
// by the ORM package tests.
package testutil

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/conduit-lang/populate/internal/orm/schema"
)

// Seed sizes used by SeedPetStore.
const (
	UserCount   = 10
	PetsPerUser = 10
	// YoyoIndex is the position, within each user's pets, of the pet named "yoyo".
	YoyoIndex = 2
)

// PetStore builds the User, Profile, Pet, Action and Tag descriptor table.
func PetStore() *schema.Registry {
	user := schema.NewResourceSchema("User").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeString}).
		AddRelationship(&schema.Relationship{Name: "pets", Type: schema.RelationshipHasMany, TargetResource: "Pet", ForeignKey: "user_id"}).
		AddRelationship(&schema.Relationship{Name: "profile", Type: schema.RelationshipHasOne, TargetResource: "Profile", ForeignKey: "user_id", Nullable: true})

	profile := schema.NewResourceSchema("Profile").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "bio", Type: schema.TypeText, Nullable: true}).
		AddField(&schema.Field{Name: "userId", Column: "user_id", Type: schema.TypeInt})

	pet := schema.NewResourceSchema("Pet").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeText}).
		AddField(&schema.Field{Name: "userId", Column: "user_id", Type: schema.TypeInt, Nullable: true}).
		AddField(&schema.Field{Name: "actionId", Column: "action_id", Type: schema.TypeInt, Nullable: true}).
		AddRelationship(&schema.Relationship{Name: "user", Type: schema.RelationshipBelongsTo, TargetResource: "User", ForeignKey: "user_id", Nullable: true}).
		AddRelationship(&schema.Relationship{Name: "action", Type: schema.RelationshipBelongsTo, TargetResource: "Action", ForeignKey: "action_id", Nullable: true}).
		AddRelationship(&schema.Relationship{Name: "tags", Type: schema.RelationshipHasManyThrough, TargetResource: "Tag", JoinTable: "pet_tags", ForeignKey: "pet_id", AssociationKey: "tag_id", OrderBy: "label"})

	action := schema.NewResourceSchema("Action").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeText}).
		AddRelationship(&schema.Relationship{Name: "pets", Type: schema.RelationshipHasMany, TargetResource: "Pet", ForeignKey: "action_id"})

	tag := schema.NewResourceSchema("Tag").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "label", Type: schema.TypeString})

	registry := schema.NewRegistry().MustRegister(user, profile, pet, action, tag)
	if err := registry.ValidateAll(); err != nil {
		panic(err)
	}
	return registry
}

const petStoreDDL = `
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE profiles (id INTEGER PRIMARY KEY, bio TEXT, user_id INTEGER NOT NULL REFERENCES users(id));
CREATE TABLE actions (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE pets (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL DEFAULT 'yo',
	user_id INTEGER REFERENCES users(id),
	action_id INTEGER REFERENCES actions(id)
);
CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT NOT NULL);
CREATE TABLE pet_tags (pet_id INTEGER NOT NULL REFERENCES pets(id), tag_id INTEGER NOT NULL REFERENCES tags(id));
`

// OpenPetStore opens an in-memory sqlite database with the pet store tables
// and seeds it with SeedPetStore. The database is closed with the test.
func OpenPetStore(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection would get its own :memory: database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, CreatePetStore(db))
	return db
}

// CreatePetStore creates the pet store tables in db and seeds them.
func CreatePetStore(db *sql.DB) error {
	for _, stmt := range strings.Split(petStoreDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return SeedPetStore(db)
}

// SeedPetStore inserts UserCount users with PetsPerUser pets each. The pet
// at YoyoIndex of every user is named "yoyo"; every pet points at its own
// action. Odd users get a profile and the first pet of each user gets the
// tags "a" and "b".
func SeedPetStore(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	exec := func(query string, args ...any) {
		if err == nil {
			_, err = tx.Exec(query, args...)
		}
	}

	exec(`INSERT INTO tags (id, label) VALUES (1, 'b'), (2, 'a')`)

	petID := 0
	for u := 1; u <= UserCount; u++ {
		exec(`INSERT INTO users (id, name) VALUES (?, ?)`, u, fmt.Sprintf("user %02d", u))
		if u%2 == 1 {
			exec(`INSERT INTO profiles (id, bio, user_id) VALUES (?, ?, ?)`, u, fmt.Sprintf("bio %d", u), u)
		}
		for p := 0; p < PetsPerUser; p++ {
			petID++
			name := fmt.Sprintf("name - u%02d p%02d", u, p)
			if p == YoyoIndex {
				name = "yoyo"
			}
			exec(`INSERT INTO actions (id, name) VALUES (?, ?)`, petID, fmt.Sprintf("action %d", petID))
			exec(`INSERT INTO pets (id, name, user_id, action_id) VALUES (?, ?, ?, ?)`, petID, name, u, petID)
			if p == 0 {
				exec(`INSERT INTO pet_tags (pet_id, tag_id) VALUES (?, 1), (?, 2)`, petID, petID)
			}
		}
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}
