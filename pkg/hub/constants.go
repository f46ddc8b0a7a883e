// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package hub

import "time"

const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"

	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "sqltune/0.1"

	// Files at or above this size, or that the hub classifies as binary, go through LFS.
	LfsFileSizeThreshold = 10 * 1024 * 1024
	// Number of bytes sent as the preupload sample.
	PreuploadSampleSize = 512

	DefaultMaxUploadWorkers = 4

	UserAgentHeader     = "User-Agent"
	AuthorizationHeader = "Authorization"
	ContentTypeHeader   = "Content-Type"
	AcceptHeader        = "Accept"

	lfsContentType    = "application/vnd.git-lfs+json"
	ndjsonContentType = "application/x-ndjson"

	TokenizerConfigFile = "tokenizer_config.json"
)
