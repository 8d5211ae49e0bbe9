package model

// Key scheme inside the shared store. Namespaced by bot name so several
// independent bot pairs can share one Redis without collision. This is
// the only wire format the coordination layer defines; it must stay
// stable across process versions sharing a store.
//
//	bot:{name}:primary_lock
//	bot:{name}:heartbeat
//	bot:{name}:state
//	bot:{name}:position:{symbol}

func LockKey(botName string) string { return "bot:" + botName + ":primary_lock" }

func HeartbeatKey(botName string) string { return "bot:" + botName + ":heartbeat" }

func StateKey(botName string) string { return "bot:" + botName + ":state" }

func PositionPrefix(botName string) string { return "bot:" + botName + ":position:" }

func PositionKey(botName, symbol string) string { return PositionPrefix(botName) + symbol }
