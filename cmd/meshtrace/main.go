package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"meshdrone/pkg/trace"
)

func main() {
	path := flag.String("in", "meshsim.trace", "trace file to read")
	event := flag.String("event", "", "only print records of this event (e.g. packet_dropped)")
	node := flag.Int("node", -1, "only print records reported by this node")
	flag.Parse()

	f, err := os.Open(*path)
	if err != nil {
		fatalf("open: %v", err)
	}
	defer f.Close()

	rd, err := trace.NewReader(f)
	if err != nil {
		fatalf("reader: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	count := 0
	for {
		rec, _, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fatalf("record %d: %v", count+1, err)
		}
		count++
		if *event != "" && rec.Event != *event {
			continue
		}
		if *node >= 0 && rec.Node != *node {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			fatalf("encode: %v", err)
		}
	}
	fmt.Fprintf(os.Stderr, "%d records\n", count)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "meshtrace: "+format+"\n", args...)
	os.Exit(1)
}
