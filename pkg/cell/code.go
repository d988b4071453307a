package cell

import "bytes"

func init() {
	RegisterFamily(byte(TagOp)>>4, decodeCodeFamily)
}

// CodeCell is an opaque placeholder for the VM's Op/Fn/MultiFn/CoreDef value
// kinds (spec.md §3). The scripting VM that interprets code cells is an
// external collaborator (spec.md §1); the core only needs these to round-
// trip through encode/decode/store/wire unchanged, carrying whatever opaque
// bytes the VM serializes, plus the child refs it declares (e.g. a Fn's
// captured closure values) so store/novelty/embedding still work correctly
// for cells the core never interprets.
type CodeCell struct {
	tag     Tag
	Payload []byte
	Args    []Ref // VM-defined child refs (e.g. closure captures)
	hash    *Hash
}

func NewCodeCell(tag Tag, payload []byte, args []Ref) (*CodeCell, error) {
	switch tag {
	case TagOp, TagFn, TagMultiFn, TagCoreDef:
		return &CodeCell{tag: tag, Payload: append([]byte(nil), payload...), Args: args}, nil
	default:
		return nil, &InvalidDataError{Reason: "not a code-cell tag"}
	}
}

func (c *CodeCell) Tag() Tag    { return c.tag }
func (c *CodeCell) Refs() []Ref { return c.Args }

func (c *CodeCell) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(c.tag))
	buf.Write(putUVLC(nil, uint64(len(c.Payload))))
	buf.Write(c.Payload)
	buf.Write(putUVLC(nil, uint64(len(c.Args))))
	for _, a := range c.Args {
		if err := a.Encode(buf); err != nil {
			return err
		}
	}
	return nil
}

func (c *CodeCell) Hash() Hash {
	if c.hash == nil {
		h := computeHash(c)
		c.hash = &h
	}
	return *c.hash
}

func decodeCodeFamily(data []byte, offset int, res Resolver) (Cell, int, error) {
	tag := Tag(data[offset])
	switch tag {
	case TagOp, TagFn, TagMultiFn, TagCoreDef:
	default:
		return nil, 0, badFormat(data[offset], offset, "unknown code-cell tag")
	}
	offset++
	n, next, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	if offset+int(n) > len(data) {
		return nil, 0, badFormat(byte(tag), offset, "code-cell: truncated payload")
	}
	payload := append([]byte(nil), data[offset:offset+int(n)]...)
	offset += int(n)
	argc, next2, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next2
	args := make([]Ref, 0, argc)
	for i := uint64(0); i < argc; i++ {
		r, nx, err := DecodeRef(data, offset, res, true)
		if err != nil {
			return nil, 0, err
		}
		args = append(args, r)
		offset = nx
	}
	return &CodeCell{tag: tag, Payload: payload, Args: args}, offset, nil
}
