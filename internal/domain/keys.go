package domain

// KeyPrefix is the default namespace for every key written to Redis/Valkey.
const KeyPrefix = "dedupd:"
