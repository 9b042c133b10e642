// Package atts provides a Bluetooth Low Energy attribute server.
//
// The server holds attribute groups: contiguous handle ranges of
// attributes, each attribute described by its type UUID, value,
// maximum length, settings and permissions. Groups are added and
// removed at runtime; connected centrals learn about the change
// through the Service Changed characteristic of the built-in GATT
// service.
//
// The server answers the ATT requests a peripheral needs to be
// discovered, read and written: exchange MTU, find information,
// find by type value, read by type, read, read blob, read by group
// type, write request and write command. It sends notifications and
// indications of characteristics whose client characteristic
// configuration descriptor a central has enabled.
//
// SETUP
//
// The server reaches the controller through two helper executables,
// the bleno hci and l2cap shims. The hci shim advertises and reports
// the adapter state; the l2cap shim accepts a connection and carries
// its ATT PDUs as hex lines.
//
// Stop the built-in bluetooth server first, which interferes with
// the shims, e.g.:
//
//     sudo service bluetooth stop
//
// USAGE
//
//     srv := atts.NewServer(atts.Name("gophers"))
//     svc := atts.MustParseUUID("09fc95c0-c111-11e3-9904-0002a5d5c51b")
//     val := atts.MustParseUUID("11fac9e0-c111-11e3-9246-0002a5d5c51b")
//
//     start := uint16(atts.FirstFreeHandle)
//     g := &atts.Group{
//     	Attrs: []*atts.Attr{
//     		atts.NewAttr(atts.PrimaryServiceUUID, svc.Bytes(), atts.PermitRead, 0),
//     		atts.NewAttr(atts.CharacteristicUUID, atts.CharacteristicDecl(atts.CharRead, start+2, val), atts.PermitRead, 0),
//     		atts.NewAttr(val, []byte("hello"), atts.PermitRead, 0),
//     	},
//     	Start: start,
//     	End:   start + 2,
//     }
//     if err := srv.AddGroup(g); err != nil {
//     	log.Fatal(err)
//     }
//     log.Fatal(srv.ListenAndServe(ctx, "hci-ble", "l2cap-ble", "hci0"))
//
// Note that some BLE central devices, particularly iOS, may aggressively
// cache results from previous connections. Enable indications on the
// Service Changed characteristic to be told about new groups.
//
// REFERENCES
//
// The shim protocol is the one of bleno:
// https://github.com/sandeepmistry/bleno.
package atts
