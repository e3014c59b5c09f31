package meshproto

import (
	"encoding/binary"
	"fmt"
)

// HelloPayload is the HELLO message body: node_id(u64), version(u32),
// mesh_port(u16), http_port(u16), flags(u32), reserved(u32).
type HelloPayload struct {
	NodeID   uint64
	Version  uint32
	MeshPort uint16
	HTTPPort uint16
	Flags    uint32
}

const helloPayloadSize = 8 + 4 + 2 + 2 + 4 + 4

func (p HelloPayload) Encode() []byte {
	buf := make([]byte, helloPayloadSize)
	binary.LittleEndian.PutUint64(buf[0:], p.NodeID)
	binary.LittleEndian.PutUint32(buf[8:], p.Version)
	binary.LittleEndian.PutUint16(buf[12:], p.MeshPort)
	binary.LittleEndian.PutUint16(buf[14:], p.HTTPPort)
	binary.LittleEndian.PutUint32(buf[16:], p.Flags)
	binary.LittleEndian.PutUint32(buf[20:], 0) // reserved
	return buf
}

func DecodeHello(buf []byte) (HelloPayload, error) {
	if len(buf) < helloPayloadSize {
		return HelloPayload{}, fmt.Errorf("meshproto: short HELLO payload")
	}
	return HelloPayload{
		NodeID:   binary.LittleEndian.Uint64(buf[0:]),
		Version:  binary.LittleEndian.Uint32(buf[8:]),
		MeshPort: binary.LittleEndian.Uint16(buf[12:]),
		HTTPPort: binary.LittleEndian.Uint16(buf[14:]),
		Flags:    binary.LittleEndian.Uint32(buf[16:]),
	}, nil
}

// SearchPayload is the SEARCH message body: query_id(u32), flags(u32),
// max_results(u32), query_len(u32), query bytes.
type SearchPayload struct {
	QueryID    uint32
	Flags      uint32
	MaxResults uint32
	Query      string
}

func (p SearchPayload) Encode() []byte {
	q := []byte(p.Query)
	buf := make([]byte, 16+len(q))
	binary.LittleEndian.PutUint32(buf[0:], p.QueryID)
	binary.LittleEndian.PutUint32(buf[4:], p.Flags)
	binary.LittleEndian.PutUint32(buf[8:], p.MaxResults)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(q)))
	copy(buf[16:], q)
	return buf
}

func DecodeSearch(buf []byte) (SearchPayload, error) {
	if len(buf) < 16 {
		return SearchPayload{}, fmt.Errorf("meshproto: short SEARCH payload")
	}
	qlen := binary.LittleEndian.Uint32(buf[12:])
	if len(buf) < 16+int(qlen) {
		return SearchPayload{}, fmt.Errorf("meshproto: SEARCH query_len %d exceeds payload", qlen)
	}
	return SearchPayload{
		QueryID:    binary.LittleEndian.Uint32(buf[0:]),
		Flags:      binary.LittleEndian.Uint32(buf[4:]),
		MaxResults: binary.LittleEndian.Uint32(buf[8:]),
		Query:      string(buf[16 : 16+qlen]),
	}, nil
}

// ResultRecord is one (doc_id, score) pair as carried in a RESULTS message.
type ResultRecord struct {
	DocID uint64
	Score uint32
}

// ResultsPayload is the RESULTS message body: query_id(u32), count(u32),
// then count records of doc_id(u64), score(u32).
type ResultsPayload struct {
	QueryID uint32
	Results []ResultRecord
}

func (p ResultsPayload) Encode() []byte {
	buf := make([]byte, 8+12*len(p.Results))
	binary.LittleEndian.PutUint32(buf[0:], p.QueryID)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(p.Results)))
	off := 8
	for _, r := range p.Results {
		binary.LittleEndian.PutUint64(buf[off:], r.DocID)
		binary.LittleEndian.PutUint32(buf[off+8:], r.Score)
		off += 12
	}
	return buf
}

func DecodeResults(buf []byte) (ResultsPayload, error) {
	if len(buf) < 8 {
		return ResultsPayload{}, fmt.Errorf("meshproto: short RESULTS payload")
	}
	count := binary.LittleEndian.Uint32(buf[4:])
	need := 8 + 12*int(count)
	if len(buf) < need {
		return ResultsPayload{}, fmt.Errorf("meshproto: RESULTS count %d exceeds payload", count)
	}
	out := ResultsPayload{QueryID: binary.LittleEndian.Uint32(buf[0:])}
	off := 8
	for i := uint32(0); i < count; i++ {
		out.Results = append(out.Results, ResultRecord{
			DocID: binary.LittleEndian.Uint64(buf[off:]),
			Score: binary.LittleEndian.Uint32(buf[off+8:]),
		})
		off += 12
	}
	return out, nil
}

// IndexOp distinguishes the replicated operation carried in an INDEX message.
type IndexOp uint32

const (
	IndexPut    IndexOp = 1
	IndexDelete IndexOp = 2
)

// IndexPayload is the INDEX message body: doc_id(u64), operation(u32),
// content_len(u32), content bytes.
type IndexPayload struct {
	DocID   uint64
	Op      IndexOp
	Content []byte
}

func (p IndexPayload) Encode() []byte {
	buf := make([]byte, 16+len(p.Content))
	binary.LittleEndian.PutUint64(buf[0:], p.DocID)
	binary.LittleEndian.PutUint32(buf[8:], uint32(p.Op))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(p.Content)))
	copy(buf[16:], p.Content)
	return buf
}

func DecodeIndex(buf []byte) (IndexPayload, error) {
	if len(buf) < 16 {
		return IndexPayload{}, fmt.Errorf("meshproto: short INDEX payload")
	}
	clen := binary.LittleEndian.Uint32(buf[12:])
	if len(buf) < 16+int(clen) {
		return IndexPayload{}, fmt.Errorf("meshproto: INDEX content_len %d exceeds payload", clen)
	}
	return IndexPayload{
		DocID:   binary.LittleEndian.Uint64(buf[0:]),
		Op:      IndexOp(binary.LittleEndian.Uint32(buf[8:])),
		Content: append([]byte(nil), buf[16:16+clen]...),
	}, nil
}

// PeerRecord is one (node_id, host, port) entry as carried in a PEERS
// message. Host is stored as a fixed 16-byte null-padded field on the wire.
type PeerRecord struct {
	NodeID uint64
	Host   string
	Port   uint16
}

const peerRecordSize = 8 + 16 + 2

// PeersPayload is the PEERS message body: count(u32), then count records.
type PeersPayload struct {
	Peers []PeerRecord
}

func (p PeersPayload) Encode() []byte {
	buf := make([]byte, 4+peerRecordSize*len(p.Peers))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(p.Peers)))
	off := 4
	for _, rec := range p.Peers {
		binary.LittleEndian.PutUint64(buf[off:], rec.NodeID)
		hostBytes := []byte(rec.Host)
		if len(hostBytes) > 16 {
			hostBytes = hostBytes[:16]
		}
		copy(buf[off+8:off+24], hostBytes)
		binary.LittleEndian.PutUint16(buf[off+24:], rec.Port)
		off += peerRecordSize
	}
	return buf
}

func DecodePeers(buf []byte) (PeersPayload, error) {
	if len(buf) < 4 {
		return PeersPayload{}, fmt.Errorf("meshproto: short PEERS payload")
	}
	count := binary.LittleEndian.Uint32(buf[0:])
	need := 4 + peerRecordSize*int(count)
	if len(buf) < need {
		return PeersPayload{}, fmt.Errorf("meshproto: PEERS count %d exceeds payload", count)
	}
	out := PeersPayload{}
	off := 4
	for i := uint32(0); i < count; i++ {
		nodeID := binary.LittleEndian.Uint64(buf[off:])
		hostRaw := buf[off+8 : off+24]
		nul := len(hostRaw)
		for i, b := range hostRaw {
			if b == 0 {
				nul = i
				break
			}
		}
		host := string(hostRaw[:nul])
		port := binary.LittleEndian.Uint16(buf[off+24:])
		out.Peers = append(out.Peers, PeerRecord{NodeID: nodeID, Host: host, Port: port})
		off += peerRecordSize
	}
	return out, nil
}
