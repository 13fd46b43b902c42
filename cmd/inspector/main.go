// inspector prints a captured body file, decoded according to its content encoding.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
)

func main() {
	file := flag.String("file", "", "captured body file")
	encoding := flag.String("encoding", "", "content encoding of the capture (gzip, deflate or empty)")
	raw := flag.Bool("raw", false, "print the bytes as captured, without decoding")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: inspector -file <path> [-encoding gzip|deflate] [-raw]")
		os.Exit(2)
	}
	logger.Init("warn")

	store, err := body.NewOSFileStore(filepath.Dir(*file))
	if err != nil {
		logger.Error("Failed to open body store", "error", err)
		os.Exit(1)
	}
	h := &body.Handle{Path: *file, ContentEncoding: body.NormalizeEncoding(*encoding)}

	open := body.OpenReadStream
	if *raw {
		open = body.OpenRawStream
	}
	rc, err := open(store, h)
	if err != nil {
		logger.Error("Failed to open body", "file", *file, "error", err)
		os.Exit(1)
	}
	defer rc.Close()

	if _, err := io.Copy(os.Stdout, rc); err != nil {
		logger.Error("Failed to decode body", "file", *file, "error", err)
		os.Exit(1)
	}
}
