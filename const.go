package atts

// This file includes constants from the BLE spec.

var (
	attrGAPUUID  = UUID16(0x1800)
	attrGATTUUID = UUID16(0x1801)

	// PrimaryServiceUUID is the type of a primary service declaration.
	PrimaryServiceUUID   = UUID16(0x2800)
	SecondaryServiceUUID = UUID16(0x2801)
	IncludeUUID          = UUID16(0x2802)
	// CharacteristicUUID is the type of a characteristic declaration.
	CharacteristicUUID = UUID16(0x2803)

	CharExtendedPropsUUID = UUID16(0x2900)
	// UserDescriptionUUID is the Characteristic User Description type.
	UserDescriptionUUID = UUID16(0x2901)
	// ClientCharacteristicConfigUUID is the CCC descriptor type.
	ClientCharacteristicConfigUUID = UUID16(0x2902)
	ServerCharacteristicConfigUUID = UUID16(0x2903)

	attrDeviceNameUUID     = UUID16(0x2A00)
	attrAppearanceUUID     = UUID16(0x2A01)
	attrServiceChangedUUID = UUID16(0x2A05)
)

// https://developer.bluetooth.org/gatt/characteristics/Pages/CharacteristicViewer.aspx?u=org.bluetooth.characteristic.gap.appearance.xml
var gapCharAppearanceGenericHeartRateSensor = []byte{0x40, 0x03}

// Do not re-order the bit flags below;
// they are organized to match the BLE spec.

// Characteristic property flags, as carried in a characteristic declaration.
const (
	CharBroadcast   = 1 << iota // may be broadcast
	CharRead                    // may be read
	CharWriteNR                 // may be written to, with no reply
	CharWrite                   // may be written to, with a reply
	CharNotify                  // supports notifications
	CharIndicate                // supports indications
	CharSignedWrite             // supports signed write
	CharExtended                // supports extended properties
)

// Client characteristic configuration bits.
const (
	CCCNotify   = 0x0001
	CCCIndicate = 0x0002
)

const (
	defaultMTU = 23
	maxMTU     = 517
)
