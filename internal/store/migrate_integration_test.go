// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/taskd/internal/store"
)

var _ = Describe("Schema migrations", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pool      *pgxpool.Pool
		migrator  *store.Migrator
	)

	tableExists := func(name string) bool {
		var exists bool
		err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+name).Scan(&exists)
		Expect(err).NotTo(HaveOccurred())
		return exists
	}

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("taskd_test"),
			postgres.WithUsername("taskd"),
			postgres.WithPassword("taskd"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.Connect(ctx, connStr, store.ConnectOptions{Retries: 5})
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			_ = migrator.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("starts at version zero with everything pending", func() {
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeZero())
		Expect(st.Applied).To(BeEmpty())
		Expect(st.Pending).To(HaveLen(3))
	})

	It("creates the auth tables on up", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(tableExists("users")).To(BeTrue())
		Expect(tableExists("sessions")).To(BeTrue())
		Expect(tableExists("password_reset_tokens")).To(BeTrue())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(3)))
		Expect(dirty).To(BeFalse())
	})

	It("is idempotent", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("cascades user deletion to sessions and reset tokens", func() {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, email, password_hash, first_name, last_name)
			VALUES ('u1', 'a@example.com', 'h', 'A', 'B')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `
			INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, expires_at)
			VALUES ('s1', 'u1', 'a', 'r', NOW() + INTERVAL '1 day')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `
			INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at)
			VALUES ('p1', 'u1', 't', NOW() + INTERVAL '1 hour')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = 'u1'`)
		Expect(err).NotTo(HaveOccurred())

		var n int
		Expect(pool.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM sessions) + (SELECT COUNT(*) FROM password_reset_tokens)`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("steps down and back up", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		Expect(tableExists("password_reset_tokens")).To(BeFalse())

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(tableExists("password_reset_tokens")).To(BeTrue())
	})

	It("drops everything on down", func() {
		Expect(migrator.Down()).To(Succeed())
		Expect(tableExists("users")).To(BeFalse())

		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeZero())
	})
})
