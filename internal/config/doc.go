// Package config provides configuration loading, merging, and path
// management.
//
// The Load function merges configuration from multiple sources, lowest
// priority first:
//
//  1. Global config (~/.config/agentd/agentd.json[c])
//  2. Project config (<dir>/agentd.json[c], <dir>/.agentd/agentd.json[c])
//  3. AGENTD_CONFIG file
//  4. AGENTD_CONFIG_CONTENT inline JSON
//  5. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY,
//     AGENTD_MODEL, AGENTD_SMALL_MODEL, AGENTD_PERMISSION)
//
// Both JSON and JSONC (JSON with comments) are accepted; comments are
// stripped with tidwall/jsonc before parsing. Inside string values two
// placeholder forms are resolved: {env:VAR} expands to the environment
// variable and {file:path} expands to the (trimmed, escaped) contents of
// the referenced file, relative paths resolving against the config file's
// directory. A .env file in the project directory is loaded with godotenv
// before anything else so its variables participate in interpolation.
//
// Path helpers follow the XDG base-directory layout: data (SQLite
// database, spilled tool output, legacy JSON storage), config, cache, and
// state directories all live under an agentd subdirectory of the
// respective XDG root.
package config
