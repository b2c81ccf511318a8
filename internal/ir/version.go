package ir

// EngineVersion is the durable engine version.
const EngineVersion = "0.1.0"
