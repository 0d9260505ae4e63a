package pb

// Message bodies carried inside a Packet's payload, one struct per PB id
// this core consumes or produces directly. Field names follow spec §4.5-§4.7.

// --- authentication (spec §4.5) ---

type AppVerify struct {
	AppRandom []byte `json:"app_random"`
}

type DeviceVerify struct {
	DeviceRandom []byte `json:"device_random"`
	DeviceSign   []byte `json:"device_sign"`
}

type CompanionDeviceType int32

const (
	CompanionIOS     CompanionDeviceType = 1
	CompanionAndroid CompanionDeviceType = 2
)

type CompanionDevice struct {
	Type           CompanionDeviceType `json:"type"`
	Name           string              `json:"name"`
	AppCapability  uint32              `json:"app_capability"`
}

type AppConfirm struct {
	AppSign                 []byte `json:"app_sign"`
	EncryptCompanionDevice  []byte `json:"encrypt_companion_device"`
}

type AuthDeviceConfirm struct{}

// Operation ids for TypeAccount packets.
const (
	OpAppVerify         int32 = 1
	OpDeviceVerify      int32 = 2
	OpAppConfirm        int32 = 3
	OpAuthDeviceConfirm int32 = 4
)

// Operation ids for TypeMass packets.
const (
	OpPrepareRequest     int32 = 1
	OpPrepareResponse    int32 = 2
	OpInstallResponse    int32 = 3
	OpInstallResult      int32 = 4
	OpPrepareOtaResponse int32 = 5
	OpAppIconResponse    int32 = 6
)

// Operation ids for TypeSystem packets.
const (
	OpDeviceInfoRequest  int32 = 1
	OpDeviceInfoResponse int32 = 2
	OpTimeSyncRequest    int32 = 3
	OpLocaleSyncRequest  int32 = 4
	OpNetworkStatusSync  int32 = 5
)

// Operation ids for TypeWatchFace packets.
const (
	OpResourceListRequest  int32 = 1
	OpResourceListResponse int32 = 2
	OpSetWatchfaceRequest  int32 = 3
	OpRemoveWatchfaceReq   int32 = 4
)

// Operation ids for TypeThirdpartyApp packets.
const (
	OpBasicInfo                     int32 = 1
	OpPhoneAppStatus                int32 = 2
	OpMessageContent                int32 = 3
	OpLaunchThirdpartyAppRequest    int32 = 4
	OpUninstallThirdpartyAppRequest int32 = 5
)

// --- bulk transfer / MASS (spec §4.6) ---

type MassDataType int32

const (
	MassDataWatchface        MassDataType = 1
	MassDataThirdpartyApp    MassDataType = 2
	MassDataFirmware         MassDataType = 3
	MassDataNotificationIcon MassDataType = 4
)

type PrepareRequest struct {
	DataType    MassDataType `json:"data_type"`
	MD5         []byte       `json:"md5"`
	TotalLength uint32       `json:"total_length"`
	Compression bool         `json:"compression"`
}

type PrepareStatusCode int32

const (
	PrepareReady       PrepareStatusCode = 0
	PrepareNotReady    PrepareStatusCode = 1
	PrepareBadRequest  PrepareStatusCode = 2
)

type PrepareResponse struct {
	ExpectedSliceLength uint32            `json:"expected_slice_length"`
	Status              PrepareStatusCode `json:"prepare_status"`
}

type PrepareOtaResponse struct {
	Status PrepareStatusCode `json:"prepare_status"`
}

type AppIconResponse struct {
	Status PrepareStatusCode `json:"prepare_status"`
}

type InstallResponse struct {
	Accepted bool `json:"accepted"`
}

type InstallResultCode int32

const (
	InstallSuccess     InstallResultCode = 0
	InstallUsed        InstallResultCode = 1
	InstallFailed      InstallResultCode = 2
	InstallVerifyFailed InstallResultCode = 3
)

type InstallResult struct {
	DataType MassDataType      `json:"data_type"`
	Code     InstallResultCode `json:"code"`
}

// --- device info / resource / watchface / sync (spec §4.7) ---

type DeviceInfoRequest struct{}

type DeviceInfoResponse struct {
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
	SerialNumber    string `json:"serial_number"`
}

type ResourceListRequest struct{}

type ResourceListResponse struct {
	WatchfaceIDs []string `json:"watchface_ids"`
}

type SetWatchfaceRequest struct {
	WatchfaceID string `json:"watchface_id"`
}

type RemoveWatchfaceRequest struct {
	WatchfaceID string `json:"watchface_id"`
}

type TimeSyncRequest struct {
	UnixMillis int64  `json:"unix_millis"`
	TZOffsetMin int32 `json:"tz_offset_min"`
}

type LocaleSyncRequest struct {
	Locale string `json:"locale"`
}

type NetworkStatusSyncRequest struct {
	Connected bool `json:"connected"`
}

// --- third-party app messaging (spec §4.7) ---

type BasicInfo struct {
	PackageName string `json:"package_name"`
	Fingerprint string `json:"fingerprint"`
}

type PhoneAppStatusCode int32

const (
	PhoneAppConnected    PhoneAppStatusCode = 1
	PhoneAppDisconnected PhoneAppStatusCode = 2
)

type PhoneAppStatus struct {
	BasicInfo BasicInfo          `json:"basic_info"`
	Status    PhoneAppStatusCode `json:"status"`
}

type MessageContent struct {
	BasicInfo BasicInfo `json:"basic_info"`
	Content   []byte    `json:"content"`
}

type LaunchThirdpartyAppRequest struct {
	PackageName string `json:"package_name"`
}

type UninstallThirdpartyAppRequest struct {
	PackageName string `json:"package_name"`
}
