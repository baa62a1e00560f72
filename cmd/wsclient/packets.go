package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/wsclient/internal/protocol/packet"
)

type textMetadata struct {
	Text string `json:"text" cbor:"text"`
}

type fileMetadata struct {
	FileName string `json:"file_name" cbor:"file_name"`
	Size     int64  `json:"size" cbor:"size"`
	FileHash string `json:"file_hash" cbor:"file_hash"`
}

// filePacket reads path into a type-2 packet. Metadata carries the base
// name, size and hex SHA-256 of the attachment.
func filePacket(codec packet.Codec, path string) (packet.Packet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return packet.Packet{}, fmt.Errorf("read file: %w", err)
	}
	sum := sha256.Sum256(data)
	meta := fileMetadata{
		FileName: filepath.Base(path),
		Size:     int64(len(data)),
		FileHash: hex.EncodeToString(sum[:]),
	}
	return packet.Marshal(codec, typeFile, meta, data)
}
