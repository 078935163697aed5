// Command boothdetectreq reads a traced detector request and writes the frame
// it carried as png.
//
//	boothdetectreq < detector-12-request.json > frame.png
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/disintegration/imaging"

	photobooth "github.com/snapbooth/photobooth-go"
)

func main() {
	log.SetFlags(0)

	var req photobooth.DetectRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		log.Fatalf("decode json: %v", err)
	}
	img, err := photobooth.UnpackDetectRequest(req)
	if err != nil {
		log.Fatalf("unpacking request: %v", err)
	}
	if err := imaging.Encode(os.Stdout, img, imaging.PNG); err != nil {
		log.Fatalf("writing png: %v", err)
	}
}
