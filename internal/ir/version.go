package ir

// EngineVersion is stamped on every committed batch so a database records
// which build wrote it.
const EngineVersion = "0.1.0"
