package ingestion_engine

import "time"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// DefaultMinContentLength is the shortest fetched page worth indexing.
	DefaultMinContentLength = 10
	DefaultFetchTimeout     = 30 * time.Second
	DefaultUserAgent        = "ContextaIngestBot/1.0 (+https://contexta.dev/bot)"
	DefaultQueueSize        = 64
	DefaultProcessTimeout   = 5 * time.Minute
)

// IngestConfig tunes the pipeline.
//
// ChunkSize/ChunkOverlap: used when neither the request nor the knowledge base sets them.
// QueueSize:              capacity of the asynchronous job channel.
// ProcessTimeout:         upper bound for one asynchronous document.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	QueueSize      int
	ProcessTimeout time.Duration
	Bucket         string
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := IngestConfig{}
	if c != nil {
		out = *c
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ChunkOverlap <= 0 {
		out.ChunkOverlap = DefaultChunkOverlap
	}
	if out.QueueSize <= 0 {
		out.QueueSize = DefaultQueueSize
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = DefaultProcessTimeout
	}
	return &out
}

// ExtractorConfig tunes URL fetching.
type ExtractorConfig struct {
	FetchTimeout     time.Duration
	UserAgent        string
	MinContentLength int
}

func (c ExtractorConfig) withDefaults() ExtractorConfig {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = DefaultMinContentLength
	}
	return c
}

// File extensions by extraction path.
var (
	directTextExts = map[string]bool{
		".txt": true, ".md": true, ".markdown": true, ".csv": true, ".json": true, ".log": true,
	}
	htmlExts = map[string]bool{
		".html": true, ".htm": true,
	}
	convertibleExts = map[string]bool{
		".pdf": true, ".doc": true, ".docx": true, ".odt": true, ".rtf": true,
		".pptx": true, ".xlsx": true, ".xls": true, ".epub": true,
	}
)

// SupportedExtension reports whether a file name can be extracted.
func SupportedExtension(ext string) bool {
	return directTextExts[ext] || htmlExts[ext] || convertibleExts[ext]
}
