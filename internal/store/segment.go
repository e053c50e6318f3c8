package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/JoanClaverol/dlt-logger/internal/model"
)

// Segment file layout:
//
//	[Magic 8B][column blocks...][Footer: rowCount uint32, minTs int64, maxTs int64]
//
// Each column block is [compressedLen uint32][zstd bytes]. Columns appear in
// the fixed order of segmentColumns below, one per record field, with context
// stored as its opaque JSON string.

var segmentMagic = []byte("DLTSEG01")

var ErrInvalidSegment = errors.New("invalid segment file header")

const segmentFooterSize = 4 + 8 + 8

// segmentCodec compresses and decompresses column blocks. One codec is shared
// per store handle; zstd encoders are safe for reuse via EncodeAll/DecodeAll.
type segmentCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newSegmentCodec() (*segmentCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &segmentCodec{encoder: enc, decoder: dec}, nil
}

// WriteSegment transposes rows into columns and writes one segment file.
func (sc *segmentCodec) WriteSegment(filename string, rows []model.Row) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(segmentMagic); err != nil {
		return err
	}

	rowCount := uint32(len(rows))
	if rowCount == 0 {
		return sc.writeFooter(f, 0, 0, 0)
	}

	var (
		ids       = NewStringColumn()
		projects  = NewStringColumn()
		modules   = NewStringColumn()
		functions = NewStringColumn()
		runIDs    = NewStringColumn()
		ts        Int64Column
		levels    Uint8Column
		actions   = NewStringColumn()
		messages  = NewStringColumn()
		successes Int8Column
		statuses  Int64Column
		durations Int64Column
		methods   = NewStringColumn()
		contexts  = NewStringColumn()
	)
	minTs := rows[0].Timestamp
	maxTs := rows[0].Timestamp
	for _, r := range rows {
		ids.Append(r.ID)
		projects.Append(r.ProjectName)
		modules.Append(r.ModuleName)
		functions.Append(r.FunctionName)
		runIDs.Append(r.RunID)
		ts.Append(r.Timestamp)
		levels.Append(r.Level)
		actions.Append(r.Action)
		messages.Append(r.Message)
		successes.Append(r.Success)
		statuses.Append(r.StatusCode)
		durations.Append(r.DurationMS)
		methods.Append(r.RequestMethod)
		contexts.Append(r.Context)
		if r.Timestamp < minTs {
			minTs = r.Timestamp
		}
		if r.Timestamp > maxTs {
			maxTs = r.Timestamp
		}
	}

	blocks := [][]byte{
		ids.Encode(), projects.Encode(), modules.Encode(), functions.Encode(),
		runIDs.Encode(), ts.Encode(), levels.Encode(), actions.Encode(),
		messages.Encode(), successes.Encode(), statuses.Encode(),
		durations.Encode(), methods.Encode(), contexts.Encode(),
	}
	for _, raw := range blocks {
		if err := sc.compressAndWrite(f, raw); err != nil {
			return err
		}
	}

	return sc.writeFooter(f, rowCount, minTs, maxTs)
}

func (sc *segmentCodec) compressAndWrite(f *os.File, raw []byte) error {
	compressed := sc.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
	if err := binary.Write(f, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	_, err := f.Write(compressed)
	return err
}

func (sc *segmentCodec) writeFooter(f *os.File, rowCount uint32, minTs, maxTs int64) error {
	if err := binary.Write(f, binary.LittleEndian, rowCount); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, minTs); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, maxTs)
}

// ReadSegment reads one segment file back into rows.
func (sc *segmentCodec) ReadSegment(filename string) ([]model.Row, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, len(segmentMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, segmentMagic) {
		return nil, ErrInvalidSegment
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < int64(len(segmentMagic)+segmentFooterSize) {
		return nil, fmt.Errorf("segment %s too small", filename)
	}
	footer := make([]byte, segmentFooterSize)
	if _, err := f.ReadAt(footer, info.Size()-segmentFooterSize); err != nil {
		return nil, err
	}
	rowCount := int(binary.LittleEndian.Uint32(footer[0:4]))
	if rowCount == 0 {
		return nil, nil
	}

	strCols := make([][]string, 0, 10)
	var tsCol []int64
	var lvlCol []uint8
	var succCol []int8
	var statusCol, durCol []int64

	// Column order mirrors WriteSegment.
	readStr := func() ([]string, error) {
		raw, err := sc.readBlock(f)
		if err != nil {
			return nil, err
		}
		return DecodeStringColumn(raw)
	}
	for i := 0; i < 5; i++ { // id, project, module, function, run_id
		col, err := readStr()
		if err != nil {
			return nil, err
		}
		strCols = append(strCols, col)
	}
	raw, err := sc.readBlock(f)
	if err != nil {
		return nil, err
	}
	tsCol = DecodeInt64Column(raw)
	raw, err = sc.readBlock(f)
	if err != nil {
		return nil, err
	}
	lvlCol = DecodeUint8Column(raw)
	for i := 0; i < 2; i++ { // action, message
		col, err := readStr()
		if err != nil {
			return nil, err
		}
		strCols = append(strCols, col)
	}
	raw, err = sc.readBlock(f)
	if err != nil {
		return nil, err
	}
	succCol = DecodeInt8Column(raw)
	raw, err = sc.readBlock(f)
	if err != nil {
		return nil, err
	}
	statusCol = DecodeInt64Column(raw)
	raw, err = sc.readBlock(f)
	if err != nil {
		return nil, err
	}
	durCol = DecodeInt64Column(raw)
	for i := 0; i < 2; i++ { // request_method, context
		col, err := readStr()
		if err != nil {
			return nil, err
		}
		strCols = append(strCols, col)
	}

	for _, col := range strCols {
		if len(col) != rowCount {
			return nil, fmt.Errorf("segment %s: column length mismatch", filename)
		}
	}
	if len(tsCol) != rowCount || len(lvlCol) != rowCount || len(succCol) != rowCount ||
		len(statusCol) != rowCount || len(durCol) != rowCount {
		return nil, fmt.Errorf("segment %s: column length mismatch", filename)
	}

	rows := make([]model.Row, rowCount)
	for i := 0; i < rowCount; i++ {
		rows[i] = model.Row{
			ID:            strCols[0][i],
			ProjectName:   strCols[1][i],
			ModuleName:    strCols[2][i],
			FunctionName:  strCols[3][i],
			RunID:         strCols[4][i],
			Timestamp:     tsCol[i],
			Level:         lvlCol[i],
			Action:        strCols[5][i],
			Message:       strCols[6][i],
			Success:       succCol[i],
			StatusCode:    statusCol[i],
			DurationMS:    durCol[i],
			RequestMethod: strCols[7][i],
			Context:       strCols[8][i],
		}
	}
	return rows, nil
}

func (sc *segmentCodec) readBlock(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}
	return sc.decoder.DecodeAll(compressed, nil)
}
