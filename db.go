package tipio

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	g "github.com/pandodao/generic"
)

var (
	tokenPrefix    = []byte("t:")
	withdrawPrefix = []byte("w:")
)

func tokenKey(ledgerID string) []byte {
	return append(tokenPrefix, ledgerID...)
}

func saveToken(txn *badger.Txn, token *TokenMetadata) error {
	e := badger.NewEntry(tokenKey(token.LedgerID), g.Must(json.Marshal(token)))
	return txn.SetEntry(e)
}

func listTokens(txn *badger.Txn) ([]*TokenMetadata, error) {
	var tokens []*TokenMetadata

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 10
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(tokenPrefix); it.ValidForPrefix(tokenPrefix); it.Next() {
		item := it.Item()

		var token TokenMetadata
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &token)
		})

		if err != nil {
			return nil, err
		}

		tokens = append(tokens, &token)
	}

	return tokens, nil
}

func deleteToken(txn *badger.Txn, ledgerID string) error {
	if err := txn.Delete(tokenKey(ledgerID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return nil
}

func ListTokens(db *badger.DB) ([]*TokenMetadata, error) {
	txn := db.NewTransaction(false)
	defer txn.Discard()

	return listTokens(txn)
}

func saveWithdrawal(txn *badger.Txn, rec *WithdrawalRecord) error {
	pk := buildIndexKey(
		withdrawPrefix,
		rec.CreatedAt.UnixNano(),
		rec.ID,
	)

	e := badger.NewEntry(pk, g.Must(json.Marshal(rec)))
	return txn.SetEntry(e)
}

func listWithdrawals(txn *badger.Txn, since time.Time, limit int) ([]*WithdrawalRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = limit
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	if since.IsZero() {
		since = time.Now()
	}

	it.Seek(buildIndexKey(withdrawPrefix, since.UnixNano()))

	var records []*WithdrawalRecord
	for ; it.ValidForPrefix(withdrawPrefix) && len(records) < limit; it.Next() {
		item := it.Item()

		var rec WithdrawalRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, err
		}

		records = append(records, &rec)
	}

	return records, nil
}

func SaveWithdrawal(db *badger.DB, rec *WithdrawalRecord) error {
	txn := db.NewTransaction(true)
	defer txn.Discard()

	if err := saveWithdrawal(txn, rec); err != nil {
		return err
	}

	return txn.Commit()
}

func ListWithdrawals(db *badger.DB, since time.Time, limit int) ([]*WithdrawalRecord, error) {
	txn := db.NewTransaction(false)
	defer txn.Discard()

	return listWithdrawals(txn, since, limit)
}
