// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package audit records one append-only event per orchestration outcome and
tracks human oversight sessions opened by escalations.

Every Event carries a content digest, the SHA-256 of its RFC 8785 canonical
JSON form, so that a stored record can be checked with VerifyDigest.

Stores:

  - MemorySink: in-process, for tests and single-node development
  - SQLSink: PostgreSQL (lib/pq) or MySQL (go-sql-driver/mysql)
  - MongoSink: MongoDB collections audit_events and oversight_sessions

Wrappers:

  - FallbackSink spools events to a local JSONL file when the primary store
    fails, so a write is only lost when both fail
  - Mirror republishes written events on a NATS subject, best effort

Spool files are shipped to object storage by package audit/archive.
*/
package audit
