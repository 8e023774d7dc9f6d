// Package firestore stores linked accounts, transactions and sync locks in
// Cloud Firestore.
//
// Layout:
//
//	linked_accounts/{userId}
//	users/{userId}                     isPlaidConnected profile flag
//	users/{userId}/transactions/{id}
//	sync_locks/{userId}
package firestore

import (
	"time"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	linkedAccountsCollection = "linked_accounts"
	usersCollection          = "users"
	transactionsCollection   = "transactions"
	syncLocksCollection      = "sync_locks"

	connectedField = "isPlaidConnected"
)

// DB groups the collection references every repository in this package uses.
type DB struct {
	client *fs.Client
	now    func() time.Time
}

// New wraps a Firestore client. The caller keeps ownership of client.
func New(client *fs.Client) *DB {
	return &DB{client: client, now: time.Now}
}

func (db *DB) linkedAccount(userID string) *fs.DocumentRef {
	return db.client.Collection(linkedAccountsCollection).Doc(userID)
}

func (db *DB) user(userID string) *fs.DocumentRef {
	return db.client.Collection(usersCollection).Doc(userID)
}

func (db *DB) transactions(userID string) *fs.CollectionRef {
	return db.user(userID).Collection(transactionsCollection)
}

func (db *DB) syncLock(userID string) *fs.DocumentRef {
	return db.client.Collection(syncLocksCollection).Doc(userID)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
