package apdu

// MRTDApplicationID is the AID of the LDS1 eMRTD application.
var MRTDApplicationID = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

func SelectApplication(aid []byte) Command {
	return Command{Cla: ClaISO, Ins: InsSelect, P1: 0x04, P2: 0x0C, Data: aid}
}

// SelectEF selects an elementary file under the current DF by file identifier.
func SelectEF(fid uint16) Command {
	return Command{Cla: ClaISO, Ins: InsSelect, P1: 0x02, P2: 0x0C, Data: []byte{byte(fid >> 8), byte(fid)}}
}

// SelectMasterFileEF selects an elementary file directly under the MF.
func SelectMasterFileEF(fid uint16) Command {
	return Command{Cla: ClaISO, Ins: InsSelect, P1: 0x00, P2: 0x0C, Data: []byte{byte(fid >> 8), byte(fid)}}
}

// ReadBinary reads ne bytes of the selected file from offset (15 bit).
func ReadBinary(offset int, ne int) Command {
	return Command{Cla: ClaISO, Ins: InsReadBinary, P1: byte(offset>>8) & 0x7F, P2: byte(offset), Ne: ne}
}

func GetChallenge(ne int) Command {
	return Command{Cla: ClaISO, Ins: InsGetChallenge, Ne: ne}
}

func ExternalAuthenticate(data []byte, ne int) Command {
	return Command{Cla: ClaISO, Ins: InsExternalAuth, Data: data, Ne: ne}
}

func InternalAuthenticate(challenge []byte) Command {
	return Command{Cla: ClaISO, Ins: InsInternalAuth, Data: challenge, Ne: MaxShortLe}
}

// MSESetAT is MANAGE SECURITY ENVIRONMENT: SET for mutual authentication.
func MSESetAT(data []byte) Command {
	return Command{Cla: ClaISO, Ins: InsManageSecurityEnv, P1: 0xC1, P2: 0xA4, Data: data}
}

// GeneralAuthenticate builds one step of a PACE exchange. Every step but
// the last is flagged as chained.
func GeneralAuthenticate(data []byte, last bool) Command {
	cla := byte(ClaCommandChained)
	if last {
		cla = ClaISO
	}
	return Command{Cla: cla, Ins: InsGeneralAuthenticate, Data: data, Ne: MaxShortLe}
}

// ReadBinaryOdd reads with INS B1, carrying the offset in data object 54.
// It addresses offsets beyond 32767. Ne covers the 53 wrapper of the answer.
func ReadBinaryOdd(offset int, ne int) Command {
	off := []byte{byte(offset >> 16), byte(offset >> 8), byte(offset)}
	for len(off) > 1 && off[0] == 0 {
		off = off[1:]
	}
	wrapper := 2
	if ne > 0x7F {
		wrapper = 3
	}
	return Command{
		Cla:  ClaISO,
		Ins:  InsReadBinaryOdd,
		Data: append([]byte{0x54, byte(len(off))}, off...),
		Ne:   min(ne+wrapper, MaxShortLe),
	}
}

// MSESetATChipAuth is MANAGE SECURITY ENVIRONMENT: SET for chip authentication.
func MSESetATChipAuth(data []byte) Command {
	return Command{Cla: ClaISO, Ins: InsManageSecurityEnv, P1: 0x41, P2: 0xA4, Data: data}
}
