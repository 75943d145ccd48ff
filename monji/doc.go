// Package monji implements a Discord trivia bot.
//
// The bot registers slash commands for starting and stopping multi-round
// trivia and word-scramble games, answers plain channel messages during an
// active round, keeps per-guild player scores, and serves a small admin
// HTTP API for managing questions and runtime configuration.
//
// Questions, scramble words, usage counters, player scores and runtime
// configuration are persisted via GORM, using either SQLite or PostgreSQL.
package monji
