package nakama

import "github.com/straub/table/internal/protocol"

const (
	// MatchNameTable is the authoritative match handler name registered with Nakama.
	MatchNameTable = "table_game"

	RpcCreateGame     = "create_game"
	RpcDrawCard       = "draw_card"
	RpcGetGame        = "get_game"
	RpcGameActions    = "game_actions"
	RpcSearchProfiles = "search_profiles"
	RpcListGames      = "list_games"
	// RpcFindGameMatch finds or creates the match hosting a game's room.
	RpcFindGameMatch = "find_game_match"

	// MatchLabelKeyGameID is the label field carrying the hosted game id.
	MatchLabelKeyGameID = "game_id"
)

// Storage collections. Objects are owned by the system user and hidden from clients.
const (
	gameCollection    = "table_games"
	cardCollection    = "table_cards"
	profileCollection = "table_profiles"
)

// Op codes for match data. Every message body is a protocol envelope; the op code names
// the event.
const (
	// Client -> Server
	OpIdentify        int64 = 1
	OpDeidentify      int64 = 2
	OpCardAction      int64 = 3
	OpPlayerMouseMove int64 = 4
	OpUserMessage     int64 = 5
	OpAdminBroadcast  int64 = 6

	// Server -> Client events
	OpGameMessage    int64 = 101
	OpPresenceRoster int64 = 102
	OpAnnouncement   int64 = 103
	OpAck            int64 = 104
)

var inboundEvents = map[int64]string{
	OpIdentify:        protocol.EventIdentify,
	OpDeidentify:      protocol.EventDeidentify,
	OpCardAction:      protocol.EventCardAction,
	OpPlayerMouseMove: protocol.EventPlayerMouseMove,
	OpUserMessage:     protocol.EventUserMessage,
	OpAdminBroadcast:  protocol.EventAdminBroadcast,
}

var outboundOps = map[string]int64{
	protocol.EventGameMessage:    OpGameMessage,
	protocol.EventPresenceRoster: OpPresenceRoster,
	protocol.EventAnnouncement:   OpAnnouncement,
	protocol.EventAck:            OpAck,
	protocol.EventUserMessage:    OpUserMessage,
}
