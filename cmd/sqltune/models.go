// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	_ "github.com/sqltune/sqltune/presets/models/generic"
	_ "github.com/sqltune/sqltune/presets/models/llama3"
	_ "github.com/sqltune/sqltune/presets/models/mistral"
	_ "github.com/sqltune/sqltune/presets/models/phi3"
	_ "github.com/sqltune/sqltune/presets/models/qwen"
)
