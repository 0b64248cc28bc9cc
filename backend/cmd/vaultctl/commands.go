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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/efchatnet/eftrust/backend/groups"
	"github.com/efchatnet/eftrust/backend/models"
	"github.com/efchatnet/eftrust/backend/search"
)

// maxContentBytes bounds how much of a text file is read for indexing.
const maxContentBytes = 64 * 1024

type app struct {
	user   string
	out    io.Writer
	search *search.Engine
	groups *groups.Manager
}

func (a *app) run(ctx context.Context, args *Args) error {
	switch {
	case args.Index != nil:
		return a.index(ctx, args.Index)
	case args.Search != nil:
		return a.find(ctx, args.Search)
	case args.Delete != nil:
		return a.search.DeleteSearchIndex(ctx, args.Delete.ID)
	case args.CreateGroup != nil:
		return a.createGroup(ctx, args.CreateGroup)
	case args.Send != nil:
		return a.send(ctx, args.Send)
	case args.History != nil:
		return a.history(ctx, args.History)
	case args.Add != nil:
		return a.groups.AddGroupMember(ctx, args.Add.Group, args.Add.User)
	case args.Remove != nil:
		return a.groups.RemoveGroupMember(ctx, args.Remove.Group, args.Remove.User)
	}
	return errors.New("missing subcommand")
}

// fileID derives a stable id from the absolute path of a file.
func fileID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:16]), nil
}

// metadataFor describes the file at path. Only text content is indexed.
func metadataFor(path string, cmd *IndexCmd) (models.SearchableMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.SearchableMetadata{}, err
	}
	if info.IsDir() {
		return models.SearchableMetadata{}, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return models.SearchableMetadata{}, err
	}
	defer f.Close()
	head, err := io.ReadAll(io.LimitReader(f, maxContentBytes))
	if err != nil {
		return models.SearchableMetadata{}, err
	}

	fileType := mime.TypeByExtension(filepath.Ext(path))
	if fileType == "" {
		fileType = http.DetectContentType(head)
	}
	if i := strings.IndexByte(fileType, ';'); i >= 0 {
		fileType = strings.TrimSpace(fileType[:i])
	}

	md := models.SearchableMetadata{
		FileName:    filepath.Base(path),
		FileType:    fileType,
		Tags:        cmd.Tags,
		Description: cmd.Description,
		Size:        info.Size(),
		ModifiedAt:  info.ModTime().UTC(),
	}
	if strings.HasPrefix(fileType, "text/") && utf8.Valid(head) {
		md.Content = string(head)
	}
	return md, nil
}

func (a *app) index(ctx context.Context, cmd *IndexCmd) error {
	md, err := metadataFor(cmd.Path, cmd)
	if err != nil {
		return err
	}
	id := cmd.ID
	if id == "" {
		if id, err = fileID(cmd.Path); err != nil {
			return err
		}
	}
	idx, err := a.search.GenerateSearchableIndex(ctx, id, a.user, md)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "indexed %s as %s (%d blind indexes)\n", md.FileName, idx.FileID, len(idx.BlindIndexes))
	return nil
}

func (a *app) find(ctx context.Context, cmd *SearchCmd) error {
	results, err := a.search.SearchFiles(ctx, a.user, cmd.Query, models.SearchOptions{
		Fuzzy:     cmd.Fuzzy,
		FileTypes: cmd.Types,
		SortBy:    models.SortBy(cmd.Sort),
		Limit:     cmd.Limit,
		Offset:    cmd.Offset,
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(a.out, "no matches")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(a.out, "%4d  %s  %s  %s\n", r.Score, r.FileID, r.Metadata.FileType, r.Metadata.FileName)
	}
	return nil
}

func (a *app) createGroup(ctx context.Context, cmd *CreateGroupCmd) error {
	session, err := a.groups.InitializeGroupSession(ctx, cmd.Group, cmd.Members)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "group %s at epoch %d with %d active members\n", session.GroupID, session.Epoch, len(session.ActiveMembers()))
	return nil
}

func (a *app) send(ctx context.Context, cmd *SendCmd) error {
	msg, err := a.groups.SendGroupMessage(ctx, cmd.Group, cmd.Message, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sent %s to %d members\n", msg.ID, len(msg.Ciphertexts))
	return nil
}

func (a *app) history(ctx context.Context, cmd *HistoryCmd) error {
	history, err := a.groups.History(ctx, cmd.Group, cmd.Limit)
	if err != nil {
		return err
	}
	// oldest first reads naturally in a terminal
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		ts := h.Message.Timestamp.Local().Format("2006-01-02 15:04")
		if h.Err != nil {
			fmt.Fprintf(a.out, "%s  %s: <%v>\n", ts, h.Message.SenderID, h.Err)
			continue
		}
		fmt.Fprintf(a.out, "%s  %s: %s\n", ts, h.Payload.SenderID, h.Payload.Content)
	}
	return nil
}
