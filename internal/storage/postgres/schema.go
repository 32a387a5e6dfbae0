package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS) so the schema can be
// applied on every open. It assumes the vector extension is installed;
// SchemaNoVector is the fallback without the embedding column.
const Schema = schemaCommonPre + `
ALTER TABLE memory_units ADD COLUMN IF NOT EXISTS embedding vector;
` + schemaCommonPost

// SchemaNoVector is Schema without the pgvector column, applied when the
// extension is missing.
const SchemaNoVector = schemaCommonPre + schemaCommonPost

const schemaCommonPre = `
-- Banks: per-subject memory partitions.
CREATE TABLE IF NOT EXISTS banks (
    bank_id     TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    personality JSONB NOT NULL,
    background  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Documents: raw text ingested in one retain call, upsertable by
-- caller-supplied id unique per bank.
CREATE TABLE IF NOT EXISTS documents (
    id                TEXT NOT NULL,
    bank_id           TEXT NOT NULL REFERENCES banks(bank_id) ON DELETE CASCADE,
    original_text     TEXT NOT NULL,
    content_hash      TEXT NOT NULL,
    memory_unit_count INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (id, bank_id)
);

-- Memory units: the facts.
CREATE TABLE IF NOT EXISTS memory_units (
    id             TEXT PRIMARY KEY,
    bank_id        TEXT NOT NULL REFERENCES banks(bank_id) ON DELETE CASCADE,
    document_id    TEXT,
    text           TEXT NOT NULL,
    fact_type      TEXT NOT NULL CHECK (fact_type IN ('world','agent','opinion','observation')),
    context        TEXT,
    occurred_start TIMESTAMPTZ,
    occurred_end   TIMESTAMPTZ,
    mentioned_at   TIMESTAMPTZ NOT NULL,
    metadata       JSONB,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    text_tsv       tsvector GENERATED ALWAYS AS (
        to_tsvector('english', text || ' ' || COALESCE(context, ''))
    ) STORED,
    FOREIGN KEY (document_id, bank_id) REFERENCES documents(id, bank_id) ON DELETE CASCADE,
    CHECK (occurred_start IS NULL OR occurred_end IS NULL OR occurred_start <= occurred_end)
);
`

const schemaCommonPost = `
CREATE INDEX IF NOT EXISTS idx_units_bank_type_mentioned
    ON memory_units(bank_id, fact_type, mentioned_at DESC);
CREATE INDEX IF NOT EXISTS idx_units_bank_document
    ON memory_units(bank_id, document_id);
CREATE INDEX IF NOT EXISTS idx_units_bank_occurred
    ON memory_units(bank_id, occurred_start);
CREATE INDEX IF NOT EXISTS idx_units_tsv ON memory_units USING GIN (text_tsv);
CREATE INDEX IF NOT EXISTS idx_units_metadata ON memory_units USING GIN (metadata);

-- Entities: canonical referents within a bank.
CREATE TABLE IF NOT EXISTS entities (
    id             TEXT PRIMARY KEY,
    bank_id        TEXT NOT NULL REFERENCES banks(bank_id) ON DELETE CASCADE,
    canonical_name TEXT NOT NULL,
    mention_count  INTEGER NOT NULL DEFAULT 0,
    first_seen     TIMESTAMPTZ,
    last_seen      TIMESTAMPTZ,
    metadata       JSONB,
    UNIQUE (bank_id, canonical_name)
);

CREATE INDEX IF NOT EXISTS idx_entities_bank_name ON entities(bank_id, canonical_name);

-- Unit-entity membership.
CREATE TABLE IF NOT EXISTS unit_entities (
    unit_id   TEXT NOT NULL REFERENCES memory_units(id) ON DELETE CASCADE,
    entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (unit_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_unit_entities_entity ON unit_entities(entity_id);

-- Memory links: typed weighted edges. A missing entity_id is stored as
-- the zero UUID so it can participate in the primary key.
CREATE TABLE IF NOT EXISTS memory_links (
    from_unit_id TEXT NOT NULL REFERENCES memory_units(id) ON DELETE CASCADE,
    to_unit_id   TEXT NOT NULL REFERENCES memory_units(id) ON DELETE CASCADE,
    link_type    TEXT NOT NULL,
    weight       DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    entity_id    TEXT NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
    PRIMARY KEY (from_unit_id, to_unit_id, link_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_links_from ON memory_links(from_unit_id);
CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_unit_id);
CREATE INDEX IF NOT EXISTS idx_links_entity ON memory_links(entity_id);

-- Async operations: ledger for background work.
CREATE TABLE IF NOT EXISTS async_operations (
    id            TEXT PRIMARY KEY,
    bank_id       TEXT NOT NULL,
    task_type     TEXT NOT NULL,
    items_count   INTEGER NOT NULL DEFAULT 0,
    document_id   TEXT,
    status        TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_operations_bank ON async_operations(bank_id, created_at DESC);
`
