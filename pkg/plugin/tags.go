package plugin

// The closed set of extension tags, preserved from the original's
// extTypeEnum (flowifc.h) so a template's extension bitmask means the
// same thing regardless of which plugins this build actually ships.
// Only TagPstats and TagBstats have a shipped implementation
// (pkg/plugin/pstats, pkg/plugin/bstats); the rest are reserved slots
// for plugins this repository doesn't implement.
const (
	TagHTTP Tag = iota
	TagRTSP
	TagTLS
	TagDNS
	TagSIP
	TagNTP
	TagSMTP
	TagPassiveDNS
	TagPstats
	TagIDPContent
	TagOVPN
	TagSSDP
	TagDNSSD
	TagNetBIOS
	TagBasicPlus
	TagBstats
	TagPhists
	TagWireguard
)

var tagNames = [...]string{
	"http", "rtsp", "tls", "dns", "sip", "ntp", "smtp", "passivedns",
	"pstats", "idpcontent", "ovpn", "ssdp", "dnssd", "netbios",
	"basicplus", "bstats", "phists", "wg",
}

// String returns the tag's plugin name, or "unknown" past the known set.
func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "unknown"
}

func init() {
	if len(tagNames) > maxTags {
		panic("plugin: too many tags registered for a 64-bit extension bitmask")
	}
}
