package lds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/logging"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/tlv"
	"go-emrtd-connector/transport"
)

// DefaultMaxChunk keeps a protected READ BINARY response within a short APDU.
const DefaultMaxChunk = 0xDF

// maxShortOffset is the highest offset READ BINARY can address in P1-P2.
const maxShortOffset = 0x7FFF

// Reader reads elementary files through a Sender. Files are cached by FID,
// so a group read early (e.g. DG14 for chip authentication) is not read twice.
type Reader struct {
	s        transport.Sender
	maxChunk int
	cache    map[uint16][]byte
	log      *slog.Logger
}

func NewReader(s transport.Sender, maxChunk int) *Reader {
	if maxChunk <= 0 || maxChunk > apdu.MaxShortLe {
		maxChunk = DefaultMaxChunk
	}
	return &Reader{
		s:        s,
		maxChunk: maxChunk,
		cache:    make(map[uint16][]byte),
		log:      logging.For("lds"),
	}
}

// classify converts lower level failures into read error kinds. Errors that
// already carry a kind keep it.
func classify(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case mrtderr.KindOf(err) != "":
		return mrtderr.Wrap(err, "", msg)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return mrtderr.FromContext(err, true)
	case errors.Is(err, transport.ErrTimeout):
		return mrtderr.Force(err, mrtderr.ReadTimeout, msg)
	case errors.Is(err, transport.ErrLost), errors.Is(err, transport.ErrReleased):
		return mrtderr.Force(err, mrtderr.TransportLost, msg)
	}
	return mrtderr.Force(err, mrtderr.ReadMalformedField, msg)
}

// SelectApplication selects the LDS1 eMRTD application.
func (r *Reader) SelectApplication(ctx context.Context) error {
	resp, err := r.s.Send(ctx, apdu.SelectApplication(apdu.MRTDApplicationID))
	if err != nil {
		return classify(err, "selecting eMRTD application")
	}
	if err := resp.Check(apdu.InsSelect); err != nil {
		return mrtderr.Force(err, mrtderr.ReadMalformedField, "selecting eMRTD application")
	}
	return nil
}

// ReadFile selects fid and reads it completely. The length is taken from the
// TLV header in the first bytes. Status word errors from SELECT are returned
// unclassified as *apdu.SWError so callers can skip absent or protected files.
func (r *Reader) ReadFile(ctx context.Context, fid uint16) ([]byte, error) {
	if b, ok := r.cache[fid]; ok {
		return b, nil
	}

	resp, err := r.s.Send(ctx, apdu.SelectEF(fid))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("selecting file %04X", fid))
	}
	if err := resp.Check(apdu.InsSelect); err != nil {
		return nil, err
	}

	head, eof, err := r.readBinary(ctx, 0, 4)
	if err != nil {
		return nil, err
	}
	header, length, err := tlv.HeaderLength(head)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadMalformedField, fmt.Sprintf("file %04X header", fid))
	}
	total := header + length

	buf := make([]byte, 0, total)
	buf = append(buf, head[:min(len(head), total)]...)
	if eof && len(buf) < total {
		return nil, truncated(fid, len(buf), total)
	}

	for len(buf) < total {
		want := min(r.maxChunk, total-len(buf))
		chunk, err := r.readChunk(ctx, fid, len(buf), want)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}

	r.log.Debug("file read", "fid", fmt.Sprintf("%04X", fid), "length", total)
	r.cache[fid] = buf
	return buf, nil
}

func truncated(fid uint16, got, want int) error {
	return mrtderr.New(mrtderr.ReadTruncated,
		fmt.Sprintf("file %04X ended after %d of %d bytes", fid, got, want))
}

// readChunk reads want bytes at offset. A short answer without the end of
// file warning is retried once for the remainder.
func (r *Reader) readChunk(ctx context.Context, fid uint16, offset, want int) ([]byte, error) {
	data, eof, err := r.readBinary(ctx, offset, want)
	if err != nil {
		return nil, err
	}
	if len(data) >= want {
		return data[:want], nil
	}
	if eof {
		return nil, truncated(fid, offset+len(data), offset+want)
	}

	r.log.Debug("short read, retrying", "fid", fmt.Sprintf("%04X", fid), "offset", offset, "got", len(data), "want", want)
	rest, _, err := r.readBinary(ctx, offset+len(data), want-len(data))
	if err != nil {
		return nil, err
	}
	data = append(data, rest...)
	if len(data) < want {
		return nil, truncated(fid, offset+len(data), offset+want)
	}
	return data[:want], nil
}

// readBinary issues one READ BINARY and reports whether the chip signalled
// the end of the file.
func (r *Reader) readBinary(ctx context.Context, offset, n int) ([]byte, bool, error) {
	cmd := apdu.ReadBinary(offset, n)
	odd := offset > maxShortOffset
	if odd {
		cmd = apdu.ReadBinaryOdd(offset, n)
	}

	resp, err := r.s.Send(ctx, cmd)
	if err != nil {
		return nil, false, classify(err, fmt.Sprintf("reading at offset %d", offset))
	}
	if err := resp.Check(cmd.Ins); err != nil {
		if sw, _ := apdu.StatusOf(err); sw == apdu.SWWrongOffset || sw == apdu.SWWrongP1P2 {
			return nil, true, nil
		}
		return nil, false, mrtderr.Force(err, mrtderr.ReadTruncated, fmt.Sprintf("reading at offset %d", offset))
	}

	data := resp.Data
	if odd {
		data, err = tlv.Unwrap(resp.Data, 0x53)
		if err != nil {
			return nil, false, mrtderr.Force(err, mrtderr.ReadMalformedField, "odd READ BINARY response")
		}
	}
	return data, resp.SW == apdu.SWEndOfFile, nil
}

// ReadCOM reads and decodes EF.COM.
func (r *Reader) ReadCOM(ctx context.Context) (*COM, error) {
	b, err := r.ReadFile(ctx, FIDCOM)
	if err != nil {
		return nil, err
	}
	com, err := ParseCOM(b)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadMalformedField, "decoding EF.COM")
	}
	return com, nil
}

// ReadDataGroup reads one data group and checks its outer tag.
func (r *Reader) ReadDataGroup(ctx context.Context, id DataGroupID) ([]byte, error) {
	b, err := r.ReadFile(ctx, id.FID())
	if err != nil {
		return nil, err
	}
	if _, err := tlv.Unwrap(b, id.Tag()); err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadMalformedField, id.String())
	}
	return b, nil
}

// ReadGroups reads the requested groups that EF.COM lists, then EF.SOD, and
// verifies every group read against the SOD. Groups the chip refuses with
// "security status not satisfied" or reports missing are skipped. Nothing is
// returned unless verification passes.
func (r *Reader) ReadGroups(ctx context.Context, ids []DataGroupID) (map[DataGroupID][]byte, *SOD, error) {
	present := ids
	com, err := r.ReadCOM(ctx)
	switch {
	case err == nil:
		present = nil
		for _, id := range ids {
			if com.Has(id) {
				present = append(present, id)
			}
		}
	case apdu.IsFileNotFound(err):
		r.log.Warn("EF.COM missing, reading requested groups directly")
	default:
		return nil, nil, classify(err, "reading EF.COM")
	}

	groups := make(map[DataGroupID][]byte, len(present))
	for _, id := range present {
		b, err := r.ReadDataGroup(ctx, id)
		switch {
		case err == nil:
			groups[id] = b
		case apdu.IsSecurityNotSatisfied(err), apdu.IsFileNotFound(err):
			r.log.Info("skipping data group", "group", id.String(), "reason", err)
		default:
			return nil, nil, classify(err, "reading "+id.String())
		}
	}

	raw, err := r.ReadFile(ctx, FIDSOD)
	if err != nil {
		if _, ok := apdu.StatusOf(err); ok {
			return nil, nil, mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "reading EF.SOD")
		}
		return nil, nil, err
	}
	sod, err := ParseSOD(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := sod.Verify(groups); err != nil {
		return nil, nil, err
	}
	r.log.Debug("security object verified", "covered", sod.DataGroups(), "read", len(groups))
	return groups, sod, nil
}

// InternalAuthenticate sends the active authentication challenge and returns
// the chip's signature.
func (r *Reader) InternalAuthenticate(ctx context.Context, challenge []byte) ([]byte, error) {
	resp, err := r.s.Send(ctx, apdu.InternalAuthenticate(challenge))
	if err != nil {
		return nil, classify(err, "internal authenticate")
	}
	if err := resp.Check(apdu.InsInternalAuth); err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "internal authenticate")
	}
	return resp.Data, nil
}
