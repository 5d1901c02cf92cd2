package model

// SessionTokenHeader carries the visitor credential on HTTP and WebSocket
// requests.
const SessionTokenHeader = "X-Session-Token"

// CloseLagged is the WebSocket close code (1013, try again later) sent when
// the broker dropped a subscriber that fell behind.
const CloseLagged = 1013
