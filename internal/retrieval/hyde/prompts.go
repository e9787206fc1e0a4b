package hyde

const systemPrompt = `أنت خبير في صياغة المواد القانونية القطرية.
مهمتك: تحويل السؤال القانوني إلى مادة قانونية افتراضية.

قواعد الصياغة:
1. ابدأ بـ "المادة (هـ):" للدلالة على أنها مادة افتراضية
2. استخدم الأسلوب التقريري القانوني (لا يجوز، يجب، يحق، يلتزم)
3. اجعل المادة موجزة (فقرة إلى فقرتين كحد أقصى)
4. استخدم المصطلحات القانونية الصحيحة بالعربية الفصحى
5. اكتب المادة كما لو كانت موجودة في القانون المدني القطري
6. لا تضف أرقام مواد حقيقية أو إشارات لمواد أخرى`

const singleTemplate = `السؤال القانوني: %s

اكتب مادة قانونية افتراضية واحدة تجيب على هذا السؤال بشكل مباشر:`

const multipleTemplate = `السؤال القانوني: %s

اكتب %d مواد قانونية افتراضية مختلفة تجيب على هذا السؤال من زوايا مختلفة.

افصل بين كل مادة بسطر فارغ. كل مادة تبدأ بـ "المادة (هـ):".`
