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

package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/groups"
	"github.com/efchatnet/eftrust/backend/search"
	"github.com/efchatnet/eftrust/backend/storage/memory"
)

func newTestApp(t *testing.T, dir *memory.Directory, user string) (*app, *bytes.Buffer) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	suite := crypto.NewSuite()
	secrets := memory.NewSecretStore()
	var out bytes.Buffer
	return &app{
		user:   user,
		out:    &out,
		search: search.New(suite, secrets, dir, search.WithLogger(quiet)),
		groups: groups.New(user, suite, secrets, dir, groups.WithLogger(quiet)),
	}, &out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMetadataFor(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "notes.txt", "grandma's recipe for apple pie")

	md, err := metadataFor(path, &IndexCmd{Tags: []string{"family"}, Description: "recipes"})
	if err != nil {
		t.Fatalf("metadataFor() error = %v", err)
	}
	if md.FileName != "notes.txt" {
		t.Errorf("FileName = %q", md.FileName)
	}
	if md.FileType != "text/plain" {
		t.Errorf("FileType = %q, want text/plain", md.FileType)
	}
	if !strings.Contains(md.Content, "apple pie") {
		t.Errorf("Content = %q", md.Content)
	}
	if md.Size != int64(len("grandma's recipe for apple pie")) {
		t.Errorf("Size = %d", md.Size)
	}
	if len(md.Tags) != 1 || md.Description != "recipes" {
		t.Errorf("Tags = %v, Description = %q", md.Tags, md.Description)
	}

	if _, err := metadataFor(t.TempDir(), &IndexCmd{}); err == nil {
		t.Error("metadataFor(directory) error = nil, want error")
	}
}

func TestMetadataFor_BinaryContentSkipped(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "Family_Photo_1990.jpg", "\xff\xd8\xff\xe0 not really a jpeg")

	md, err := metadataFor(path, &IndexCmd{})
	if err != nil {
		t.Fatal(err)
	}
	if md.FileType != "image/jpeg" {
		t.Errorf("FileType = %q, want image/jpeg", md.FileType)
	}
	if md.Content != "" {
		t.Errorf("Content = %q, want empty", md.Content)
	}
}

func TestFileID_Stable(t *testing.T) {
	t.Parallel()
	a, err := fileID("some/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := fileID("some/../some/file.txt")
	c, _ := fileID("other.txt")
	if a != b {
		t.Errorf("fileID differs for the same file: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different files share an id")
	}
}

func TestIndexSearchDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, out := newTestApp(t, memory.NewDirectory(), "alice")
	path := writeFile(t, "Family_Photo_1990.jpg", "\xff\xd8\xff\xe0")

	err := a.run(ctx, &Args{Index: &IndexCmd{Path: path, ID: "photo", Tags: []string{"reunion"}}})
	if err != nil {
		t.Fatalf("index error = %v", err)
	}
	if !strings.Contains(out.String(), "indexed Family_Photo_1990.jpg as photo") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := a.run(ctx, &Args{Search: &SearchCmd{Query: "reunion", Sort: "relevance", Limit: 20}}); err != nil {
		t.Fatalf("search error = %v", err)
	}
	if !strings.Contains(out.String(), "photo") || !strings.Contains(out.String(), "image/jpeg") {
		t.Errorf("search output = %q", out.String())
	}

	if err := a.run(ctx, &Args{Delete: &DeleteCmd{ID: "photo"}}); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	out.Reset()
	if err := a.run(ctx, &Args{Search: &SearchCmd{Query: "reunion", Sort: "relevance", Limit: 20}}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "no matches" {
		t.Errorf("search after delete = %q, want no matches", out.String())
	}
}

func TestGroupCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := memory.NewDirectory()
	alice, aliceOut := newTestApp(t, dir, "alice")
	bob, bobOut := newTestApp(t, dir, "bob")

	if _, err := bob.groups.EnsureIdentity(ctx); err != nil {
		t.Fatal(err)
	}
	if err := alice.run(ctx, &Args{CreateGroup: &CreateGroupCmd{Group: "family", Members: []string{"bob"}}}); err != nil {
		t.Fatalf("create-group error = %v", err)
	}
	if !strings.Contains(aliceOut.String(), "2 active members") {
		t.Errorf("create-group output = %q", aliceOut.String())
	}

	if err := alice.run(ctx, &Args{Send: &SendCmd{Group: "family", Message: "hello bob"}}); err != nil {
		t.Fatalf("send error = %v", err)
	}
	if err := bob.run(ctx, &Args{History: &HistoryCmd{Group: "family", Limit: 10}}); err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(bobOut.String(), "alice: hello bob") {
		t.Errorf("history output = %q", bobOut.String())
	}

	if err := alice.run(ctx, &Args{Remove: &MemberCmd{Group: "family", User: "bob"}}); err != nil {
		t.Fatalf("remove-member error = %v", err)
	}
	if err := alice.run(ctx, &Args{}); err == nil {
		t.Error("run() without subcommand error = nil, want error")
	}
}
