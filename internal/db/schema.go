package db

// EmbeddingDimension must match the embedding model's output size.
const EmbeddingDimension = 1536

// SchemaSQL defines tables and indexes for the extraction pipeline.
const SchemaSQL = `
    -- ==========================================================================
    -- DOCUMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS file_name ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS doc_type ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS section_count ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS payload ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_source ON document FIELDS source_id UNIQUE;

    -- ==========================================================================
    -- CHUNK TABLE (retrievable units of document text)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document_id ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS heading ON chunk TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS content ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_document ON chunk FIELDS document_id;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION 1536 DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS chunk_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS chunk_content_ft ON chunk FIELDS content FULLTEXT ANALYZER chunk_analyzer BM25;

    -- ==========================================================================
    -- PROPOSED_NODE TABLE (the only entity the pipeline writes)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS proposed_node SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON proposed_node TYPE string;
    DEFINE FIELD IF NOT EXISTS node_json ON proposed_node TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON proposed_node TYPE string DEFAULT 'proposed';
    DEFINE FIELD IF NOT EXISTS confidence ON proposed_node TYPE float DEFAULT 0.5;
    DEFINE FIELD IF NOT EXISTS provenance ON proposed_node TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created ON proposed_node TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS proposed_node_status ON proposed_node FIELDS status;
    DEFINE ANALYZER IF NOT EXISTS node_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS proposed_node_title_ft ON proposed_node FIELDS title FULLTEXT ANALYZER node_analyzer BM25;

    -- ==========================================================================
    -- PIPELINE_JOB TABLE (run state, progress, cancellation)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS pipeline_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON pipeline_job TYPE string DEFAULT 'initializing';
    DEFINE FIELD IF NOT EXISTS stage ON pipeline_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS total_documents ON pipeline_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS processed_documents ON pipeline_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed_documents ON pipeline_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS cancel_requested ON pipeline_job TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS error ON pipeline_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON pipeline_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON pipeline_job TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS pipeline_job_status ON pipeline_job FIELDS status;
`
