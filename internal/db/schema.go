package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- AGENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS agent SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON agent TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON agent TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS model ON agent TYPE string;
    DEFINE FIELD IF NOT EXISTS system_prompt ON agent TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS document_count ON agent TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS total_chunks ON agent TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON agent TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON agent TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- DOCUMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS agent ON document TYPE record<agent>;
    DEFINE FIELD IF NOT EXISTS original_filename ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS stored_filename ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS file_path ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS content_hash ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS file_type ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS file_size ON document TYPE int;
    DEFINE FIELD IF NOT EXISTS status ON document TYPE string
        ASSERT $value IN ["pending", "processing", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS error_message ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS chunk_count ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON document TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS processed_at ON document TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS document_agent ON document FIELDS agent;
    DEFINE INDEX IF NOT EXISTS document_hash ON document FIELDS agent, content_hash;

    -- ==========================================================================
    -- CONVERSATION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS agent ON conversation TYPE record<agent>;
    DEFINE FIELD IF NOT EXISTS title ON conversation TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON conversation TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON conversation TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS conversation_agent ON conversation FIELDS agent;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation ON message TYPE record<conversation>;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string
        ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS content ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS sources ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS message_conversation ON message FIELDS conversation;
`
