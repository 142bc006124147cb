package helper

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PointID derives a stable UUID for a chunk so that re-ingesting the same
// chunk overwrites the stored point instead of duplicating it.
func PointID(namespace, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+chunkID)).String()
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}
