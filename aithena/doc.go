// Package aithena implements a Discord bot that relays slash commands to
// OpenAI's chat-completion and image-generation APIs, while enforcing
// per-user spend limits and keeping a durable record of every exchange.
//
// Key components of the package include:
//
//   - Aithena: The main struct that wires the bot's components together.
//   - Discord: Handles the Discord gateway session and slash commands.
//   - OpenAI: Manages OpenAI API calls and orchestrates each metered
//     request (access check, provider call, accounting, persistence).
//   - UsageLedger: Tracks per-user cost/token/image usage over a rolling
//     time window, in memory.
//   - AccessPolicy: Decides whether a user may make another request.
//   - ExchangeStore: Persists chat and image exchanges for audit and
//     retrieval, backed by SQLite or Postgres.
//   - CostTable: Maps model usage (tokens, image size/quality) to dollars.
//
// The bot supports the slash commands:
//
//   - /chat and /private: Ask the AI a question, publicly or ephemerally.
//   - /image: Generate an image from a prompt.
//   - /usage: Show current windowed and lifetime API usage.
//   - /last-chat, /last-image, /config: Admin/debug commands.
//
// Usage limits are enforced against a configurable dollar cap over a
// configurable rolling interval. The bot owner, configured admins, and
// explicitly unlimited users bypass the cap.
package aithena
