package protocol

// Control message type constants carried in the "type" field.
const (
	TypeTransferStart    = "transfer_start"
	TypeFileStart        = "file_start"
	TypeChunk            = "chunk"
	TypeFileEnd          = "file_end"
	TypeTransferComplete = "transfer_complete"
	TypeTransferCancel   = "transfer_cancel"
)

// Pairing payload types.
const (
	PairingOffer  = "offer"
	PairingAnswer = "answer"
)
