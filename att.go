package atts

import "fmt"

const (
	attOpError           = 0x01
	attOpMtuReq          = 0x02
	attOpMtuResp         = 0x03
	attOpFindInfoReq     = 0x04
	attOpFindInfoResp    = 0x05
	attOpFindByTypeReq   = 0x06
	attOpFindByTypeResp  = 0x07
	attOpReadByTypeReq   = 0x08
	attOpReadByTypeResp  = 0x09
	attOpReadReq         = 0x0a
	attOpReadResp        = 0x0b
	attOpReadBlobReq     = 0x0c
	attOpReadBlobResp    = 0x0d
	attOpReadMultiReq    = 0x0e
	attOpReadMultiResp   = 0x0f
	attOpReadByGroupReq  = 0x10
	attOpReadByGroupResp = 0x11
	attOpWriteReq        = 0x12
	attOpWriteResp       = 0x13
	attOpWriteCmd        = 0x52
	attOpPrepWriteReq    = 0x16
	attOpPrepWriteResp   = 0x17
	attOpExecWriteReq    = 0x18
	attOpExecWriteResp   = 0x19
	attOpHandleNotify    = 0x1b
	attOpHandleInd       = 0x1d
	attOpHandleCnf       = 0x1e
	attOpSignedWriteCmd  = 0xd2
)

// An Error is an ATT error code, as carried in an Error Response.
type Error byte

// ATT error codes.
const (
	ErrSuccess                 Error = 0x00
	ErrInvalidHandle           Error = 0x01
	ErrReadNotPerm             Error = 0x02
	ErrWriteNotPerm            Error = 0x03
	ErrInvalidPDU              Error = 0x04
	ErrAuthentication          Error = 0x05
	ErrReqNotSupp              Error = 0x06
	ErrInvalidOffset           Error = 0x07
	ErrAuthorization           Error = 0x08
	ErrPrepQueueFull           Error = 0x09
	ErrAttrNotFound            Error = 0x0a
	ErrAttrNotLong             Error = 0x0b
	ErrInsuffEncrKeySize       Error = 0x0c
	ErrInvalAttrValueLen       Error = 0x0d
	ErrUnlikely                Error = 0x0e
	ErrInsuffEnc               Error = 0x0f
	ErrUnsuppGrpType           Error = 0x10
	ErrInsuffResources         Error = 0x11
	ErrCCCImproperlyConfigured Error = 0xfd
)

// Supported statuses for read/write handlers.
const (
	StatusSuccess         = byte(ErrSuccess)
	StatusInvalidOffset   = byte(ErrInvalidOffset)
	StatusInvalidLength   = byte(ErrInvalAttrValueLen)
	StatusUnexpectedError = byte(ErrUnlikely)
)

var errorNames = map[Error]string{
	ErrSuccess:                 "success",
	ErrInvalidHandle:           "invalid handle",
	ErrReadNotPerm:             "read not permitted",
	ErrWriteNotPerm:            "write not permitted",
	ErrInvalidPDU:              "invalid PDU",
	ErrAuthentication:          "insufficient authentication",
	ErrReqNotSupp:              "request not supported",
	ErrInvalidOffset:           "invalid offset",
	ErrAuthorization:           "insufficient authorization",
	ErrPrepQueueFull:           "prepare queue full",
	ErrAttrNotFound:            "attribute not found",
	ErrAttrNotLong:             "attribute not long",
	ErrInsuffEncrKeySize:       "insufficient encryption key size",
	ErrInvalAttrValueLen:       "invalid attribute value length",
	ErrUnlikely:                "unlikely error",
	ErrInsuffEnc:               "insufficient encryption",
	ErrUnsuppGrpType:           "unsupported group type",
	ErrInsuffResources:         "insufficient resources",
	ErrCCCImproperlyConfigured: "client characteristic configuration descriptor improperly configured",
}

func (e Error) Error() string {
	if s, ok := errorNames[e]; ok {
		return "att: " + s
	}
	return fmt.Sprintf("att: error 0x%02X", byte(e))
}

func attErrorResp(op byte, h uint16, e Error) []byte {
	return attErr{opcode: op, handle: h, status: e}.Marshal()
}

// attRespFor maps from att request
// codes to att response codes.
var attRespFor = map[byte]byte{
	attOpMtuReq:         attOpMtuResp,
	attOpFindInfoReq:    attOpFindInfoResp,
	attOpFindByTypeReq:  attOpFindByTypeResp,
	attOpReadByTypeReq:  attOpReadByTypeResp,
	attOpReadReq:        attOpReadResp,
	attOpReadBlobReq:    attOpReadBlobResp,
	attOpReadMultiReq:   attOpReadMultiResp,
	attOpReadByGroupReq: attOpReadByGroupResp,
	attOpWriteReq:       attOpWriteResp,
	attOpPrepWriteReq:   attOpPrepWriteResp,
	attOpExecWriteReq:   attOpExecWriteResp,
}

// minReqLen is the shortest well-formed PDU for each supported request.
var minReqLen = map[byte]int{
	attOpMtuReq:         3,
	attOpFindInfoReq:    5,
	attOpFindByTypeReq:  7,
	attOpReadByTypeReq:  7,
	attOpReadReq:        3,
	attOpReadBlobReq:    5,
	attOpReadByGroupReq: 7,
	attOpWriteReq:       3,
	attOpWriteCmd:       3,
}

type attErr struct {
	opcode uint8
	handle uint16
	status Error
}

func (e attErr) Marshal() []byte {
	// little-endian encoding for handle
	return []byte{attOpError, e.opcode, byte(e.handle), byte(e.handle >> 8), byte(e.status)}
}
