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
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/eftrust/backend/config"
	"github.com/efchatnet/eftrust/backend/crypto"
	"github.com/efchatnet/eftrust/backend/directory"
	"github.com/efchatnet/eftrust/backend/groups"
	"github.com/efchatnet/eftrust/backend/keystore"
	"github.com/efchatnet/eftrust/backend/middleware"
	"github.com/efchatnet/eftrust/backend/search"
	redisStore "github.com/efchatnet/eftrust/backend/storage/redis"
)

type IndexCmd struct {
	Path        string   `arg:"positional,required" help:"file to index"`
	ID          string   `arg:"--id" help:"file id (default: derived from the absolute path)"`
	Tags        []string `arg:"-t,--tag,separate" help:"tag to attach, repeatable"`
	Description string   `arg:"-d,--description" help:"free text description"`
}

type SearchCmd struct {
	Query  string   `arg:"positional,required" help:"search query"`
	Fuzzy  bool     `arg:"-f,--fuzzy" help:"include n-gram and bloom filter matches"`
	Types  []string `arg:"--type,separate" help:"restrict to MIME type, repeatable"`
	Sort   string   `arg:"--sort" default:"relevance" help:"relevance, name or date"`
	Limit  int      `arg:"--limit" default:"20"`
	Offset int      `arg:"--offset"`
}

type DeleteCmd struct {
	ID string `arg:"positional,required" help:"file id"`
}

type CreateGroupCmd struct {
	Group   string   `arg:"positional,required"`
	Members []string `arg:"positional" help:"user ids to add"`
}

type SendCmd struct {
	Group   string `arg:"positional,required"`
	Message string `arg:"positional,required"`
}

type HistoryCmd struct {
	Group string `arg:"positional,required"`
	Limit int    `arg:"--limit" default:"20"`
}

type MemberCmd struct {
	Group string `arg:"positional,required"`
	User  string `arg:"positional,required"`
}

type Args struct {
	Index       *IndexCmd       `arg:"subcommand:index" help:"index a file for search"`
	Search      *SearchCmd      `arg:"subcommand:search" help:"search indexed files"`
	Delete      *DeleteCmd      `arg:"subcommand:delete" help:"remove a file from the index"`
	CreateGroup *CreateGroupCmd `arg:"subcommand:create-group" help:"create an encrypted group"`
	Send        *SendCmd        `arg:"subcommand:send" help:"send a message to a group"`
	History     *HistoryCmd     `arg:"subcommand:history" help:"show recent group messages"`
	Add         *MemberCmd      `arg:"subcommand:add-member" help:"add a member to a group"`
	Remove      *MemberCmd      `arg:"subcommand:remove-member" help:"remove a member from a group"`

	User       string `arg:"-u,--user,required,env:EFTRUST_USER" help:"local user id"`
	Keystore   string `arg:"-k,--keystore,env:EFTRUST_KEYSTORE" help:"keystore directory (default: ~/.eftrust/<user>)"`
	Passphrase string `arg:"--passphrase,env:EFTRUST_PASSPHRASE" help:"keystore passphrase"`
	Server     string `arg:"-s,--server,env:EFTRUST_DIRECTORY_URL" help:"directory server URL"`
	Token      string `arg:"--token,env:EFTRUST_TOKEN" help:"bearer token for the directory"`
	Redis      string `arg:"--redis,env:EFTRUST_REDIS" help:"redis address for the search result cache"`
	Verbose    bool   `arg:"-v,--verbose"`
}

func (Args) Description() string {
	return "vaultctl indexes and searches the encrypted vault and talks to encrypted groups\n"
}

func main() {
	var args Args
	p := arg.MustParse(&args)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := setup(&args, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(1)
	}
	if err := a.run(ctx, &args); err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(1)
	}
}

// setup opens the keystore and the directory and builds the engines.
func setup(args *Args, cfg *config.Config) (*app, error) {
	if args.Passphrase == "" {
		return nil, fmt.Errorf("a keystore passphrase is required (--passphrase or EFTRUST_PASSPHRASE)")
	}
	dir := args.Keystore
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".eftrust", args.User)
	}
	secrets, err := keystore.Open(dir, []byte(args.Passphrase), keystore.DefaultKDF)
	if err != nil {
		return nil, err
	}

	server := args.Server
	if server == "" {
		server = cfg.DirectoryURL
	}
	token := args.Token
	if token == "" && cfg.JWTSecret != "" {
		// development setups share the server secret
		token, err = middleware.IssueToken(&middleware.JWTConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, args.User, time.Hour)
		if err != nil {
			return nil, err
		}
	}
	client, err := directory.New(server, token)
	if err != nil {
		return nil, err
	}

	logger := log.New(io.Discard, "", 0)
	if args.Verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	suite := crypto.NewSuite()
	searchOpts := []search.Option{search.WithLogger(logger)}
	// without redis, results are cached in process for this run only
	if args.Redis != "" {
		rdb := redis.NewClient(&redis.Options{Addr: args.Redis})
		searchOpts = append(searchOpts, search.WithCache(redisStore.NewSearchCache(rdb)))
	}

	return &app{
		user:   args.User,
		out:    os.Stdout,
		search: search.New(suite, secrets, client, searchOpts...),
		groups: groups.New(args.User, suite, secrets, client, groups.WithLogger(logger)),
	}, nil
}
