package redis

// Redis key naming conventions for circulate data.
// All keys are prefixed with "circulate:" to avoid collisions.

const keyPrefix = "circulate:"

// ── Catalog keys ──

// bookKey returns the key for a book entity: circulate:book:{id}
func bookKey(id string) string { return keyPrefix + "book:" + id }

// bookIDsKey is the Set tracking all book IDs for enumeration.
const bookIDsKey = keyPrefix + "book_ids"

// memberKey returns the key for a member entity: circulate:member:{id}
func memberKey(id string) string { return keyPrefix + "member:" + id }

// memberIDsKey is the Set tracking all member IDs for enumeration.
const memberIDsKey = keyPrefix + "member_ids"

// loanKey returns the key for a loan entity: circulate:loan:{id}
func loanKey(id string) string { return keyPrefix + "loan:" + id }

// loanIDsKey is the Set tracking all loan IDs for enumeration.
const loanIDsKey = keyPrefix + "loan_ids"

// holdKey returns the key for a hold entity: circulate:hold:{id}
func holdKey(id string) string { return keyPrefix + "hold:" + id }

// holdIDsKey is the Set tracking all hold IDs for enumeration.
const holdIDsKey = keyPrefix + "hold_ids"

// ── Journal keys ──

// journalKey returns the key for a journal entry: circulate:journal:{id}
func journalKey(id string) string { return keyPrefix + "journal:" + id }

// journalIDsKey is the Set tracking all journal entry IDs for enumeration.
const journalIDsKey = keyPrefix + "journal_ids"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: circulate:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Cluster keys ──

// instanceKey returns the key for an instance entity: circulate:instance:{id}
func instanceKey(id string) string { return keyPrefix + "instance:" + id }

// instanceIDsKey is the Set tracking all instance IDs for enumeration.
const instanceIDsKey = keyPrefix + "instance_ids"

// leaderKey stores the current leader instance ID.
const leaderKey = keyPrefix + "leader"
