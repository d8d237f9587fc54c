package constant

const (
	SESSION_CREATED      = "Session created successfully"
	SESSION_STARTED      = "Session started successfully"
	SESSION_STOPPED      = "Session stopped successfully"
	SESSION_DELETED      = "Session deleted successfully"
	SESSION_AUTH_RESET   = "Session auth state reset successfully"
	MESSAGE_SENT         = "Message sent successfully"
	MEDIA_SENT           = "Media message sent successfully"
	QR_CODE_GENERATED    = "QR code generated successfully"
	STATUS_RETRIEVED     = "Status retrieved successfully"

	SESSION_NOT_FOUND     = "Session not found"
	SESSION_NOT_CONNECTED = "Session is not connected"
	SESSION_ALREADY_RUNS  = "Session is already running"
	INVALID_PLATFORM      = "Invalid platform"
	NO_QR_AVAILABLE       = "No QR code available for this session"
	MEDIA_UPLOAD_FAILED   = "Failed to upload media"
	FILE_READ_FAILED      = "Failed to read file data"

	PAGE_NUMBER_OUT_OF_RANGE = "Page number out of range"
)
