// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return NewStore(db, nil), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) NotifyGroupMessage(_ context.Context, msg *models.GroupMessage) error {
	n.messages = append(n.messages, msg.ID)
	return n.err
}

func TestGetPublicKey(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM member_public_keys")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"public_key", "created_at"}).
			AddRow([]byte{1, 2, 3}, created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM member_public_keys")).
		WithArgs("mallory").
		WillReturnError(sql.ErrNoRows)

	key, err := s.GetPublicKey(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	if key.UserID != "alice" || len(key.PublicKey) != 3 || !key.CreatedAt.Equal(created) {
		t.Errorf("GetPublicKey() = %+v", key)
	}

	if _, err := s.GetPublicKey(context.Background(), "mallory"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetPublicKey(missing) error = %v, want %v", err, storage.ErrNotFound)
	}
	expectationsMet(t, mock)
}

func TestPublishPublicKey(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO member_public_keys")).
		WithArgs("alice", []byte{9}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.PublishPublicKey(context.Background(), "alice", []byte{9}); err != nil {
		t.Fatalf("PublishPublicKey() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestPutGroupSession(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Now()

	session := &models.GroupSession{
		GroupID:   "g1",
		CreatedBy: "alice",
		Epoch:     2,
		Version:   3,
		Members: map[string]models.GroupMemberKeys{
			"bob":   {UserID: "bob", PublicKey: []byte{2}, AddedBy: "alice", IsActive: true},
			"alice": {UserID: "alice", PublicKey: []byte{1}, AddedBy: "alice", IsActive: true},
		},
		SenderKeys: map[string]*models.SenderKey{
			"k1": {ID: "k1", GroupID: "g1", OwnerID: "alice", Epoch: 2, SigningPublicKey: []byte{7}},
		},
		CurrentSenderKeys: map[string]string{"alice": "k1"},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_sessions")).
		WithArgs("g1", "alice", 2, int64(3), []byte(`{"alice":"k1"}`), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// members are written in id order
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_members")).
		WithArgs("g1", "alice", []byte{1}, sqlmock.AnyArg(), "alice", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_members")).
		WithArgs("g1", "bob", []byte{2}, sqlmock.AnyArg(), "alice", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sender_keys")).
		WithArgs("k1", "g1", "alice", 2, []byte{7}, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.PutGroupSession(context.Background(), session); err != nil {
		t.Fatalf("PutGroupSession() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestPutGroupSession_RollsBackOnError(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	session := &models.GroupSession{
		GroupID: "g1",
		Members: map[string]models.GroupMemberKeys{
			"alice": {UserID: "alice", IsActive: true},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_members")).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	if err := s.PutGroupSession(context.Background(), session); err == nil {
		t.Fatal("PutGroupSession() error = nil, want error")
	}
	expectationsMet(t, mock)
}

func TestPutGroupSession_StaleVersion(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	session := &models.GroupSession{
		GroupID: "g1",
		Epoch:   1,
		Version: 2,
		Members: map[string]models.GroupMemberKeys{
			"bob": {UserID: "bob", IsActive: true},
		},
	}

	// the guarded upsert touches no row, so members must not be written
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE group_sessions.version = $4 - 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.PutGroupSession(context.Background(), session)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("PutGroupSession() error = %v, want %v", err, storage.ErrConflict)
	}
	expectationsMet(t, mock)
}

func TestGetGroupSession(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM group_sessions")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"created_by", "epoch", "version", "current_sender_keys", "created_at", "updated_at"}).
			AddRow("alice", 3, 5, []byte(`{"alice":"k2"}`), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM group_members")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "public_key", "added_at", "added_by", "is_active"}).
			AddRow("alice", []byte{1}, now, "alice", true).
			AddRow("carol", []byte{3}, now, "alice", false))
	mock.ExpectQuery(regexp.QuoteMeta("FROM sender_keys")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"sender_key_id", "owner_id", "epoch", "signing_public_key",
			"distributions", "created_at", "expires_at", "retired_at"}).
			AddRow("k1", "alice", 2, []byte{7}, []byte(`{}`), now, now.Add(time.Hour), now).
			AddRow("k2", "alice", 3, []byte{8}, []byte(`{"alice":{"kem_ciphertext":"AQ==","nonce":"Ag==","ciphertext":"Aw=="}}`), now, now.Add(time.Hour), nil))

	session, err := s.GetGroupSession(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetGroupSession() error = %v", err)
	}
	if session.Epoch != 3 || session.Version != 5 || session.CreatedBy != "alice" {
		t.Errorf("session = %+v", session)
	}
	if id, ok := session.CurrentSenderKeyID("alice"); !ok || id != "k2" {
		t.Errorf("CurrentSenderKeyID(alice) = %q, %v", id, ok)
	}
	if len(session.ActiveMembers()) != 1 {
		t.Errorf("active members = %d, want 1", len(session.ActiveMembers()))
	}
	if !session.SenderKeys["k1"].Retired() {
		t.Error("k1 should be retired")
	}
	if session.SenderKeys["k2"].Retired() {
		t.Error("k2 should not be retired")
	}
	if env := session.SenderKeys["k2"].Distributions["alice"]; len(env.KEMCiphertext) != 1 || env.KEMCiphertext[0] != 1 {
		t.Errorf("distribution = %+v", env)
	}
	expectationsMet(t, mock)
}

func TestGetGroupSession_NotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM group_sessions")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetGroupSession(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetGroupSession() error = %v, want %v", err, storage.ErrNotFound)
	}
	expectationsMet(t, mock)
}

func TestSaveGroupMessage(t *testing.T) {
	t.Parallel()
	idx := uint64(4)
	msg := &models.GroupMessage{
		ID:          "m1",
		GroupID:     "g1",
		SenderID:    "alice",
		SenderKeyID: "k1",
		Ciphertexts: map[string]models.SealedEnvelope{},
		Signature:   []byte{5},
		ChainIndex:  &idx,
		Timestamp:   time.Now(),
	}

	tests := []struct {
		name      string
		notifyErr error
	}{
		{"notified", nil},
		{"notify failure is not fatal", errors.New("redis down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			n := &recordingNotifier{err: tt.notifyErr}
			s.SetNotifier(n)

			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_messages")).
				WithArgs("m1", "g1", "alice", "k1", []byte(`{}`), []byte{5}, int64(4), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := s.SaveGroupMessage(context.Background(), msg); err != nil {
				t.Fatalf("SaveGroupMessage() error = %v", err)
			}
			if len(n.messages) != 1 || n.messages[0] != "m1" {
				t.Errorf("notified = %v, want [m1]", n.messages)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestSaveGroupMessage_NoNotifyOnFailure(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	n := &recordingNotifier{}
	s.SetNotifier(n)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_messages")).
		WillReturnError(errors.New("disk full"))

	err := s.SaveGroupMessage(context.Background(), &models.GroupMessage{ID: "m1", GroupID: "g1"})
	if err == nil {
		t.Fatal("SaveGroupMessage() error = nil, want error")
	}
	if len(n.messages) != 0 {
		t.Errorf("notified = %v, want none", n.messages)
	}
	expectationsMet(t, mock)
}

func TestGetGroupMessages(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM group_messages")).
		WithArgs("g1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "group_id", "sender_id", "sender_key_id",
			"ciphertexts", "signature", "chain_index", "created_at"}).
			AddRow("m2", "g1", "alice", "k1", []byte(`{}`), []byte{1}, int64(1), now).
			AddRow("m1", "g1", "alice", "k1", []byte(`{}`), []byte{1}, nil, now.Add(-time.Minute)))

	msgs, err := s.GetGroupMessages(context.Background(), "g1", 10)
	if err != nil {
		t.Fatalf("GetGroupMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if idx, ok := msgs[0].Index(); !ok || idx != 1 {
		t.Errorf("msgs[0].Index() = %d, %v", idx, ok)
	}
	if _, ok := msgs[1].Index(); ok {
		t.Error("msgs[1] should have no chain index")
	}
	expectationsMet(t, mock)
}

func TestIsActiveMember(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_active FROM group_members")).
		WithArgs("g1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_active FROM group_members")).
		WithArgs("g1", "mallory").
		WillReturnError(sql.ErrNoRows)

	if ok, err := s.IsActiveMember(context.Background(), "g1", "alice"); err != nil || !ok {
		t.Errorf("IsActiveMember(alice) = %v, %v", ok, err)
	}
	if ok, err := s.IsActiveMember(context.Background(), "g1", "mallory"); err != nil || ok {
		t.Errorf("IsActiveMember(mallory) = %v, %v", ok, err)
	}
	expectationsMet(t, mock)
}

func searchIndexRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"file_id", "user_id", "blind_indexes", "ngram_indexes",
		"bloom_bits", "bloom_m", "bloom_k", "metadata_ciphertext", "metadata_nonce",
		"created_at", "updated_at", "deleted_at"})
}

func TestSearchIndexes(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Now()

	idx := &models.SearchIndex{
		FileID:            "f1",
		UserID:            "alice",
		BlindIndexes:      []string{"aaa", "bbb"},
		NgramIndexes:      []string{"ccc"},
		BloomFilter:       models.BloomFilterData{Bits: []byte{0xff}, M: 8, K: 3},
		EncryptedMetadata: models.EncryptedBlob{Ciphertext: []byte{1}, Nonce: []byte{2}},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO search_indexes")).
		WithArgs("f1", "alice", sqlmock.AnyArg(), sqlmock.AnyArg(), []byte{0xff}, int64(8), int64(3),
			[]byte{1}, []byte{2}, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.PutSearchIndex(context.Background(), idx); err != nil {
		t.Fatalf("PutSearchIndex() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND deleted_at IS NULL")).
		WithArgs("alice").
		WillReturnRows(searchIndexRows().
			AddRow("f1", "alice", "{aaa,bbb}", "{ccc}", []byte{0xff}, int64(8), int64(3),
				[]byte{1}, []byte{2}, now, now, nil))
	got, err := s.QueryUserSearchIndexes(context.Background(), "alice")
	if err != nil {
		t.Fatalf("QueryUserSearchIndexes() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if len(got[0].BlindIndexes) != 2 || got[0].BlindIndexes[1] != "bbb" {
		t.Errorf("BlindIndexes = %v", got[0].BlindIndexes)
	}
	if got[0].BloomFilter.M != 8 || got[0].BloomFilter.K != 3 {
		t.Errorf("BloomFilter = %+v", got[0].BloomFilter)
	}
	if got[0].Deleted() {
		t.Error("index should be live")
	}

	mock.ExpectExec(regexp.QuoteMeta("SET deleted_at = $2")).
		WithArgs("f1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.DeleteSearchIndex(context.Background(), "f1"); err != nil {
		t.Fatalf("DeleteSearchIndex() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE file_id = $1")).
		WithArgs("f1").
		WillReturnRows(searchIndexRows().
			AddRow("f1", "alice", "{aaa,bbb}", "{ccc}", []byte{0xff}, int64(8), int64(3),
				[]byte{1}, []byte{2}, now, now, now))
	tomb, err := s.GetSearchIndex(context.Background(), "f1")
	if err != nil {
		t.Fatalf("GetSearchIndex() error = %v", err)
	}
	if !tomb.Deleted() {
		t.Error("index should be tombstoned")
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE file_id = $1")).
		WithArgs("f2").
		WillReturnError(sql.ErrNoRows)
	if _, err := s.GetSearchIndex(context.Background(), "f2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSearchIndex(missing) error = %v, want %v", err, storage.ErrNotFound)
	}

	expectationsMet(t, mock)
}

func TestPurgeDeletedSearchIndexes(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM search_indexes")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeDeletedSearchIndexes(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeDeletedSearchIndexes() error = %v", err)
	}
	if n != 3 {
		t.Errorf("purged = %d, want 3", n)
	}
	expectationsMet(t, mock)
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	for i := 0; i < 10; i++ {
		mock.ExpectExec("CREATE (TABLE|INDEX) IF NOT EXISTS").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	expectationsMet(t, mock)
}
