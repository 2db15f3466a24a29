// Package feed retrieves gtfs-realtime feeds that may be served either as
// a binary protocol buffer payload or as its JSON transcription, and
// decodes both transparently into the MobilityData FeedMessage.
package feed

import (
	"context"
	"fmt"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cercatrack/railfusion/foundation/httpclient"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Decode parses payload as a binary FeedMessage first and falls back to
// the JSON transcription when the binary unmarshal fails.
func Decode(payload []byte) (*gtfsrt.FeedMessage, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty feed payload")
	}
	message := &gtfsrt.FeedMessage{}
	binaryErr := proto.Unmarshal(payload, message)
	if binaryErr == nil {
		return message, nil
	}
	message = &gtfsrt.FeedMessage{}
	jsonErr := protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(payload, message)
	if jsonErr == nil {
		return message, nil
	}
	return nil, fmt.Errorf("payload is neither binary (%v) nor json (%v) gtfs-realtime", binaryErr, jsonErr)
}

// Fetch retrieves and decodes the feed at url, applying the client's
// fast-retry policy to the network fetch.
func Fetch(ctx context.Context, client *httpclient.Client, url string) (*gtfsrt.FeedMessage, error) {
	payload, err := client.GetBytesWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// HeaderTimestamp returns the feed header timestamp, zero when absent.
func HeaderTimestamp(message *gtfsrt.FeedMessage) int64 {
	if message == nil || message.Header == nil {
		return 0
	}
	return int64(message.Header.GetTimestamp())
}
