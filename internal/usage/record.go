package usage

import (
	"encoding/binary"
	"time"

	"wormhole/internal/domain"
)

// record is the stored form of a domain.UsageRecord.
type record struct {
	App       string        `cbor:"1,keyasint"`
	Mailbox   string        `cbor:"2,keyasint"`
	Nameplate string        `cbor:"3,keyasint,omitempty"`
	Started   int64         `cbor:"4,keyasint"`
	Waiting   time.Duration `cbor:"5,keyasint"`
	Total     time.Duration `cbor:"6,keyasint"`
	Sides     int           `cbor:"7,keyasint"`
	Moods     []string      `cbor:"8,keyasint,omitempty"`
	Result    string        `cbor:"9,keyasint"`
}

func fromDomain(rec domain.UsageRecord) record {
	r := record{
		App:       string(rec.App),
		Mailbox:   string(rec.Mailbox),
		Nameplate: string(rec.Nameplate),
		Started:   rec.Started.UnixNano(),
		Waiting:   rec.Waiting,
		Total:     rec.Total,
		Sides:     rec.Sides,
		Result:    string(rec.Result),
	}
	for _, m := range rec.Moods {
		r.Moods = append(r.Moods, string(m))
	}
	return r
}

func (r record) toDomain() domain.UsageRecord {
	rec := domain.UsageRecord{
		App:       domain.AppID(r.App),
		Mailbox:   domain.MailboxID(r.Mailbox),
		Nameplate: domain.Nameplate(r.Nameplate),
		Started:   time.Unix(0, r.Started),
		Waiting:   r.Waiting,
		Total:     r.Total,
		Sides:     r.Sides,
		Result:    domain.Result(r.Result),
	}
	for _, m := range r.Moods {
		rec.Moods = append(rec.Moods, domain.Mood(m))
	}
	return rec
}

func recordKey(started time.Time, mailbox domain.MailboxID) []byte {
	k := make([]byte, 8, 8+len(mailbox))
	binary.BigEndian.PutUint64(k, uint64(started.UnixNano()))
	return append(k, mailbox...)
}

func timeKey(t time.Time) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(t.UnixNano()))
	return k[:]
}
