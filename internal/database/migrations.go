// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

// migrations are applied in order; each entry runs inside its own
// transaction and is recorded in schema_migrations. Never edit an applied
// migration, append a new one.
var migrations = []string{
	// 001: base schema
	`
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE audiobooks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		narrator TEXT NOT NULL DEFAULT '',
		asin TEXT,
		year INTEGER,
		series TEXT NOT NULL DEFAULT '',
		series_part REAL,
		runtime_minutes INTEGER,
		file_path TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'wanted',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX idx_audiobooks_asin ON audiobooks(asin) WHERE asin IS NOT NULL;

	CREATE TABLE requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		audiobook_id INTEGER NOT NULL REFERENCES audiobooks(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		status TEXT NOT NULL DEFAULT 'pending',
		progress REAL NOT NULL DEFAULT 0,
		import_attempts INTEGER NOT NULL DEFAULT 0,
		max_import_retries INTEGER NOT NULL DEFAULT 3,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		deleted_at TIMESTAMP
	);
	CREATE INDEX idx_requests_status ON requests(status) WHERE deleted_at IS NULL;
	CREATE INDEX idx_requests_deleted ON requests(deleted_at) WHERE deleted_at IS NOT NULL;
	CREATE INDEX idx_requests_audiobook ON requests(audiobook_id);

	CREATE TABLE download_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
		indexer_id INTEGER,
		indexer_name TEXT NOT NULL DEFAULT '',
		protocol TEXT NOT NULL,
		torrent_hash TEXT,
		nzb_id TEXT,
		release_title TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		selected BOOLEAN NOT NULL DEFAULT 0,
		download_status TEXT NOT NULL DEFAULT 'grabbed',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		CHECK (
			(protocol = 'torrent' AND torrent_hash IS NOT NULL AND nzb_id IS NULL) OR
			(protocol = 'usenet' AND nzb_id IS NOT NULL AND torrent_hash IS NULL)
		)
	);
	CREATE INDEX idx_download_history_request ON download_history(request_id);
	CREATE INDEX idx_download_history_hash ON download_history(torrent_hash) WHERE torrent_hash IS NOT NULL;
	CREATE UNIQUE INDEX idx_download_history_selected ON download_history(request_id) WHERE selected = 1;

	CREATE TABLE indexers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		protocol TEXT NOT NULL DEFAULT 'torrent',
		priority INTEGER NOT NULL DEFAULT 10,
		seeding_time_minutes INTEGER NOT NULL DEFAULT 0,
		remove_after_processing BOOLEAN NOT NULL DEFAULT 0,
		rss_enabled BOOLEAN NOT NULL DEFAULT 0,
		categories TEXT NOT NULL DEFAULT '[]',
		enabled BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE search_queue (
		request_id INTEGER PRIMARY KEY REFERENCES requests(id) ON DELETE CASCADE,
		reason TEXT NOT NULL DEFAULT '',
		queued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE feed_items (
		indexer_id INTEGER NOT NULL,
		item_key TEXT NOT NULL,
		seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (indexer_id, item_key)
	);

	CREATE TABLE app_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		require_approval BOOLEAN NOT NULL DEFAULT 0,
		require_author_match BOOLEAN NOT NULL DEFAULT 1,
		max_import_retries INTEGER NOT NULL DEFAULT 3,
		flag_modifiers TEXT NOT NULL DEFAULT '[]',
		reject_expression TEXT NOT NULL DEFAULT '',
		search_batch_size INTEGER NOT NULL DEFAULT 25,
		seeding_batch_size INTEGER NOT NULL DEFAULT 100,
		stalled_search_threshold_minutes INTEGER NOT NULL DEFAULT 360,
		feed_sweep_interval_minutes INTEGER NOT NULL DEFAULT 15,
		feed_retention_days INTEGER NOT NULL DEFAULT 14,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	INSERT INTO app_settings (id) VALUES (1);
	`,
}
