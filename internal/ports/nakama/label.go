package nakama

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// matchLabel renders the searchable label of a match hosting gameID.
func matchLabel(gameID string, sessions int) (string, error) {
	label, err := structpb.NewStruct(map[string]interface{}{
		MatchLabelKeyGameID: gameID,
		"sessions":          sessions,
	})
	if err != nil {
		return "", err
	}
	b, err := (&protojson.MarshalOptions{EmitUnpopulated: true}).Marshal(label)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// gameLabelQuery selects the match hosting gameID.
func gameLabelQuery(gameID string) string {
	return fmt.Sprintf("+label.%s:%q", MatchLabelKeyGameID, gameID)
}
