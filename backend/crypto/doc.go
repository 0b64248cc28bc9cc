// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package crypto is the primitive crypto provider consumed by the group
// session manager and the search index engine.
//
// # Algorithm Suite
//
//   - ML-KEM-768 (NIST FIPS 203): member encryption keys. Every group message
//     is encapsulated to each active member's published key.
//
//   - ML-DSA-65 (NIST FIPS 204): sender key signatures over the canonical
//     message payload.
//
//   - AES-256-GCM: authenticated encryption of message payloads, sealed
//     chain seeds and encrypted search metadata.
//
//   - HKDF-SHA-512 (RFC 5869): message keys, envelope keys and search
//     subkeys, always with a context string for domain separation.
//
//   - HMAC-SHA-256: blind index and n-gram tags.
//
// # Nonces
//
// AES-GCM nonces are 96 random bits drawn per seal. Keys derived by the
// group ratchet are used for exactly one message, so nonce reuse under a
// message key cannot happen even in principle.
//
// Callers depend on the [Provider] interface; [Suite] is the production
// implementation.
package crypto
