package namespace

import (
	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/wire"
)

// Open opens an existing namespace file, returning its client handle and
// mirrored lock generation (reply payload per spec §6.1: "i64 handle, u8
// created_flag, i64 lock_generation").
func (s *Session) Open(name string, flags OpenFlag) (int64, error) {
	return s.openOrCreate(OpOpen, name, flags)
}

// Create creates (or opens, per flags) a namespace file.
func (s *Session) Create(name string, flags OpenFlag) (int64, error) {
	return s.openOrCreate(OpCreate, name, flags|OpenFlagCreate)
}

func (s *Session) openOrCreate(op int32, name string, flags OpenFlag) (int64, error) {
	path := normalize(name)
	var handle int64
	var generation int64

	err := s.do(op, func(e *wire.Encoder) {
		e.PutVstr(path)
		e.PutI32(int32(flags))
	}, func(d *wire.Decoder) error {
		h, err := d.GetI64()
		if err != nil {
			return err
		}
		if _, err := d.GetByte(); err != nil { // created_flag, unused by caller
			return err
		}
		gen, err := d.GetI64()
		if err != nil {
			return err
		}
		handle, generation = h, gen
		return nil
	}, "open "+path)
	if err != nil {
		return 0, err
	}

	hs := newClientHandleState(handle, path, int32(flags))
	hs.LockGeneration = generation
	s.trackHandle(hs)
	return handle, nil
}

// Close releases a client handle and stops tracking it locally.
func (s *Session) Close(handle int64) error {
	err := s.do(OpClose, func(e *wire.Encoder) {
		e.PutI64(handle)
	}, nil, "close handle")
	s.UnregisterHandle(handle)
	return err
}

func (s *Session) Mkdir(name string) error {
	path := normalize(name)
	return s.do(OpMkdir, func(e *wire.Encoder) {
		e.PutVstr(path)
	}, nil, "mkdir "+path)
}

func (s *Session) Unlink(name string) error {
	path := normalize(name)
	return s.do(OpUnlink, func(e *wire.Encoder) {
		e.PutVstr(path)
	}, nil, "unlink "+path)
}

func (s *Session) Exists(name string) (bool, error) {
	path := normalize(name)
	var present bool
	err := s.do(OpExists, func(e *wire.Encoder) {
		e.PutVstr(path)
	}, func(d *wire.Decoder) error {
		v, err := d.GetBool()
		if err != nil {
			return err
		}
		present = v
		return nil
	}, "exists "+path)
	return present, err
}

func (s *Session) AttrSet(handle int64, attr string, value []byte) error {
	return s.do(OpAttrSet, func(e *wire.Encoder) {
		e.PutI64(handle)
		e.PutVstr(attr)
		e.PutBytes32(value)
	}, nil, "attr_set "+attr)
}

func (s *Session) AttrGet(handle int64, attr string) ([]byte, error) {
	var value []byte
	err := s.do(OpAttrGet, func(e *wire.Encoder) {
		e.PutI64(handle)
		e.PutVstr(attr)
	}, func(d *wire.Decoder) error {
		v, err := d.GetBytes32()
		if err != nil {
			return err
		}
		value = v
		return nil
	}, "attr_get "+attr)
	return value, err
}

func (s *Session) AttrDel(handle int64, attr string) error {
	return s.do(OpAttrDel, func(e *wire.Encoder) {
		e.PutI64(handle)
		e.PutVstr(attr)
	}, nil, "attr_del "+attr)
}

// Readdir lists the entries of an open directory handle (spec §6.1:
// "i32 count, then count x DirEntry").
func (s *Session) Readdir(handle int64) ([]wire.DirEntry, error) {
	var entries []wire.DirEntry
	err := s.do(OpReaddir, func(e *wire.Encoder) {
		e.PutI64(handle)
	}, func(d *wire.Decoder) error {
		count, err := d.GetI32()
		if err != nil {
			return err
		}
		if count < 0 {
			return nserrors.New(nserrors.SERIALIZATION_INPUT_TRUNCATED, "negative readdir count")
		}
		entries = make([]wire.DirEntry, 0, count)
		for i := int32(0); i < count; i++ {
			de, err := d.GetDirEntry()
			if err != nil {
				return err
			}
			entries = append(entries, de)
		}
		return nil
	}, "readdir handle")
	return entries, err
}
