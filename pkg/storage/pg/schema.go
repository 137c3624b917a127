// Copyright © 2024 Stratus
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package pg

import (
	"fmt"
	"strings"
)

type column struct {
	name string
}

// Table names its columns once; insert statements are derived from it so the
// column order in code and SQL cannot drift apart.
type Table struct {
	Name           string
	Columns        []column
	ConflictClause string
}

func (tbl *Table) ToInsertStatement() string {
	var colnames, placeholders []string
	for i, col := range tbl.Columns {
		colnames = append(colnames, col.name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) %s",
		tbl.Name, strings.Join(colnames, ", "), strings.Join(placeholders, ", "), tbl.ConflictClause,
	)
}

var TableBlocks = Table{
	Name: "blocks",
	Columns: []column{
		{"number"},
		{"hash"},
		{"transactions_root"},
		{"gas"},
		{"logs_bloom"},
		{"timestamp_in_secs"},
		{"header"},
	},
}

var TableTransactions = Table{
	Name: "transactions",
	Columns: []column{
		{"hash"},
		{"signer_address"},
		{"nonce"},
		{"address_from"},
		{"address_to"},
		{"input"},
		{"gas"},
		{"gas_used"},
		{"status"},
		{"output"},
		{"contract_address"},
		{"idx_in_block"},
		{"block_number"},
		{"block_hash"},
		{"raw"},
	},
}

var TableLogs = Table{
	Name: "logs",
	Columns: []column{
		{"address"},
		{"data"},
		{"transaction_hash"},
		{"transaction_idx"},
		{"log_idx"},
		{"block_number"},
		{"block_hash"},
	},
}

var TableTopics = Table{
	Name: "topics",
	Columns: []column{
		{"topic"},
		{"idx"},
		{"transaction_hash"},
		{"transaction_idx"},
		{"log_idx"},
		{"block_number"},
		{"block_hash"},
	},
}

var TableAccounts = Table{
	Name: "accounts",
	Columns: []column{
		{"address"},
		{"nonce"},
		{"balance"},
		{"bytecode"},
		{"block_number"},
	},
	ConflictClause: "ON CONFLICT (address, block_number) DO NOTHING",
}

var TableAccountSlots = Table{
	Name: "account_slots",
	Columns: []column{
		{"idx"},
		{"value"},
		{"account_address"},
		{"block_number"},
	},
	ConflictClause: "ON CONFLICT (idx, account_address, block_number) DO NOTHING",
}

// Schema is the authoritative DDL. New applies it on startup; every
// statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS blocks (
    number             BIGINT      PRIMARY KEY,
    hash               BYTEA       NOT NULL UNIQUE CHECK (length(hash) = 32),
    transactions_root  BYTEA       NOT NULL CHECK (length(transactions_root) = 32),
    gas                NUMERIC     NOT NULL,
    logs_bloom         BYTEA       NOT NULL CHECK (length(logs_bloom) = 256),
    timestamp_in_secs  BIGINT      NOT NULL,
    header             BYTEA       NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE SEQUENCE IF NOT EXISTS block_number_seq OWNED BY blocks.number;

CREATE TABLE IF NOT EXISTS transactions (
    hash             BYTEA   NOT NULL UNIQUE CHECK (length(hash) = 32),
    signer_address   BYTEA   NOT NULL CHECK (length(signer_address) = 20),
    nonce            NUMERIC NOT NULL,
    address_from     BYTEA   NOT NULL CHECK (length(address_from) = 20),
    address_to       BYTEA   CHECK (length(address_to) = 20),
    input            BYTEA   NOT NULL CHECK (length(input) <= 24000),
    gas              NUMERIC NOT NULL,
    gas_used         NUMERIC NOT NULL,
    status           SMALLINT NOT NULL,
    output           BYTEA,
    contract_address BYTEA   CHECK (length(contract_address) = 20),
    idx_in_block     INT     NOT NULL,
    block_number     BIGINT  NOT NULL REFERENCES blocks (number),
    block_hash       BYTEA   NOT NULL REFERENCES blocks (hash),
    raw              BYTEA   NOT NULL,
    UNIQUE (block_number, idx_in_block)
);

CREATE TABLE IF NOT EXISTS logs (
    address          BYTEA  NOT NULL CHECK (length(address) = 20),
    data             BYTEA,
    transaction_hash BYTEA  NOT NULL REFERENCES transactions (hash),
    transaction_idx  INT    NOT NULL,
    log_idx          INT    NOT NULL,
    block_number     BIGINT NOT NULL REFERENCES blocks (number),
    block_hash       BYTEA  NOT NULL REFERENCES blocks (hash),
    UNIQUE (block_number, log_idx)
);

CREATE TABLE IF NOT EXISTS topics (
    topic            BYTEA  NOT NULL CHECK (length(topic) = 32),
    idx              INT    NOT NULL CHECK (idx >= 0 AND idx < 4),
    transaction_hash BYTEA  NOT NULL REFERENCES transactions (hash),
    transaction_idx  INT    NOT NULL,
    log_idx          INT    NOT NULL,
    block_number     BIGINT NOT NULL REFERENCES blocks (number),
    block_hash       BYTEA  NOT NULL REFERENCES blocks (hash),
    UNIQUE (block_number, log_idx, idx)
);

CREATE TABLE IF NOT EXISTS accounts (
    address      BYTEA   NOT NULL CHECK (length(address) = 20),
    nonce        NUMERIC NOT NULL CHECK (nonce >= 0),
    balance      NUMERIC NOT NULL CHECK (balance >= 0),
    bytecode     BYTEA   CHECK (length(bytecode) <= 24000),
    block_number BIGINT  NOT NULL,
    PRIMARY KEY (address, block_number)
);

CREATE TABLE IF NOT EXISTS account_slots (
    idx             BYTEA  NOT NULL CHECK (length(idx) = 32),
    value           BYTEA  NOT NULL CHECK (length(value) = 32),
    account_address BYTEA  NOT NULL CHECK (length(account_address) = 20),
    block_number    BIGINT NOT NULL,
    PRIMARY KEY (idx, account_address, block_number)
);

CREATE INDEX IF NOT EXISTS logs_block_number_idx ON logs (block_number);
CREATE INDEX IF NOT EXISTS topics_block_number_idx ON topics (block_number);
`
