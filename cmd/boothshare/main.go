// Command boothshare uploads a composite to the sharing service and prints
// the share URL.
//
// Example:
//
//	# Upload composite.jpg with given credentials.
//	boothshare -baseurl https://share.example.com your_api_key your_hmac_key composite.jpg
//
//	# Include the session, grid and frame with the upload.
//	boothshare -baseurl https://share.example.com -session 3f1c... -grid 4x6-2cut -frame gold your_api_key your_hmac_key composite.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snapbooth/photobooth-go/raster"
	"github.com/snapbooth/photobooth-go/share"
)

var (
	baseURL   = flag.String("baseurl", os.Getenv("PHOTOBOOTH_SHARE_BASE_URL"), "base URL to which composites are sent")
	sessionID = flag.String("session", "", "session ID, a new one if empty")
	grid      = flag.String("grid", "", "grid of the composite")
	frame     = flag.String("frame", "", "frame of the composite")
	timeout   = flag.Duration("timeout", 30*time.Second, "upload timeout")
)

func usage() {
	log.Println("usage: boothshare [-baseurl https://...] [-session id] [-grid id] [-frame id] apikey hmackey composite.jpg")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) != 3 {
		usage()
	}

	apiKey, hmacKey, path := args[0], args[1], args[2]
	u, err := share.NewUploader(*baseURL, apiKey, hmacKey)
	if err != nil {
		log.Fatalf("new uploader: %v", err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("reading composite: %v", err)
	}
	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}
	opts := &share.UploadOpts{Grid: *grid, Frame: *frame}
	if strings.EqualFold(filepath.Ext(path), ".png") {
		opts.MIME = raster.PNG.MIME()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	url, err := u.Upload(ctx, *sessionID, filepath.Base(path), buf, opts)
	if err != nil {
		log.Fatalf("upload: %v", err)
	}
	fmt.Println(url)
}
